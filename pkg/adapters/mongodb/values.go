package mongodb

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// Flatten приводит BSON-значение к плоскому значению для staging таблицы
func Flatten(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case bson.Decimal128:
		return val.String()
	case bson.Binary:
		return val.Data
	case int32:
		return int64(val)
	case bson.D, bson.M, bson.A, map[string]any, []any:
		b, err := json.Marshal(plain(val))
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return val
	}
}

// plain рекурсивно переводит BSON-контейнеры в обычные map/slice
func plain(v any) any {
	switch val := v.(type) {
	case bson.D:
		m := make(map[string]any, len(val))
		for _, el := range val {
			m[el.Key] = plain(el.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(val))
		for k, x := range val {
			m[k] = plain(x)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, x := range val {
			m[k] = plain(x)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = plain(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = plain(x)
		}
		return out
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case bson.Decimal128:
		return val.String()
	case bson.Binary:
		return val.Data
	default:
		return val
	}
}

// inference накапливает наблюдения о полях выборки документов
type inference struct {
	order []string
	types map[string]schema.DataType
	names map[string]string
	seen  map[string]int
}

func newInference() *inference {
	return &inference{
		types: make(map[string]schema.DataType),
		names: make(map[string]string),
		seen:  make(map[string]int),
	}
}

func (in *inference) observe(field string, v any) {
	if _, ok := in.seen[field]; !ok {
		in.order = append(in.order, field)
		in.seen[field] = 0
	}
	if v == nil {
		return
	}
	in.seen[field]++

	t, name := bsonType(v)
	prev, ok := in.types[field]
	switch {
	case !ok:
		in.types[field], in.names[field] = t, name
	case prev == t:
	case prev.IsNumeric() && t.IsNumeric():
		in.types[field], in.names[field] = widen(prev, t), "number"
	default:
		in.types[field], in.names[field] = schema.TypeText, "mixed"
	}
}

// columns возвращает колонки; поле отсутствующее хотя бы в одном документе nullable
func (in *inference) columns(docs int, pk string) []schema.Column {
	cols := make([]schema.Column, 0, len(in.order))
	for _, f := range in.order {
		t, ok := in.types[f]
		if !ok {
			t, in.names[f] = schema.TypeText, "null"
		}
		cols = append(cols, schema.Column{
			Name:         f,
			DataType:     in.names[f],
			Type:         t,
			Nullable:     f != pk && in.seen[f] < docs,
			IsPrimaryKey: f == pk,
		})
	}
	return cols
}

func widen(a, b schema.DataType) schema.DataType {
	if a == schema.TypeReal || b == schema.TypeReal || a == schema.TypeDecimal || b == schema.TypeDecimal {
		return schema.TypeReal
	}
	return schema.TypeBigInt
}

// bsonType возвращает нормализованный тип и имя BSON-типа
func bsonType(v any) (schema.DataType, string) {
	switch v.(type) {
	case int32:
		return schema.TypeInteger, "int"
	case int64:
		return schema.TypeBigInt, "long"
	case float64:
		return schema.TypeReal, "double"
	case bson.Decimal128:
		return schema.TypeDecimal, "decimal"
	case string:
		return schema.TypeText, "string"
	case bool:
		return schema.TypeBoolean, "bool"
	case bson.DateTime:
		return schema.TypeTimestampTZ, "date"
	case bson.ObjectID:
		return schema.TypeObjectID, "objectId"
	case bson.Binary:
		return schema.TypeBinary, "binData"
	case bson.A, []any:
		return schema.TypeJSON, "array"
	case bson.D, bson.M, map[string]any:
		return schema.TypeJSON, "object"
	}
	return schema.TypeText, "unknown"
}
