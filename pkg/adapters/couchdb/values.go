package couchdb

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// служебные поля документа, которые не становятся колонками
var reserved = map[string]bool{"_rev": true, "_attachments": true, "_deleted": true, "_conflicts": true}

// flatten приводит JSON-значение к плоскому виду: объекты и массивы в JSON-строку,
// целые float64 в int64
func flatten(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return val
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// _id всегда первым
	for i, k := range keys {
		if k == "_id" && i > 0 {
			copy(keys[1:i+1], keys[:i])
			keys[0] = "_id"
			break
		}
	}
	return keys
}

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
	if reserved[field] {
		return
	}
	if _, ok := in.seen[field]; !ok {
		in.order = append(in.order, field)
		in.seen[field] = 0
	}
	if v == nil {
		return
	}
	in.seen[field]++

	t, name := jsonType(v)
	prev, ok := in.types[field]
	switch {
	case !ok:
		in.types[field], in.names[field] = t, name
	case prev == t:
	case prev.IsNumeric() && t.IsNumeric():
		in.types[field], in.names[field] = schema.TypeReal, "number"
	default:
		in.types[field], in.names[field] = schema.TypeText, "mixed"
	}
}

func (in *inference) columns(docs int) []schema.Column {
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
			Nullable:     f != "_id" && in.seen[f] < docs,
			IsPrimaryKey: f == "_id",
		})
	}
	return cols
}

func jsonType(v any) (schema.DataType, string) {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) {
			return schema.TypeBigInt, "integer"
		}
		return schema.TypeReal, "number"
	case string:
		return schema.TypeText, "string"
	case bool:
		return schema.TypeBoolean, "boolean"
	case map[string]any:
		return schema.TypeJSON, "object"
	case []any:
		return schema.TypeJSON, "array"
	}
	return schema.TypeText, "unknown"
}
