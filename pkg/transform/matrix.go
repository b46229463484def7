package transform

import (
	"fmt"
	"sync"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// AnyEngine - подстановка "любой движок" в ключе матрицы
const AnyEngine schema.EngineKind = "*"

// Compatibility - как тип источника переносится на движок-цель
type Compatibility struct {
	TargetType             schema.DataType `json:"targetType"`
	RequiresTransformation bool            `json:"requiresTransformation"`
	Hint                   string          `json:"hint,omitempty"`
}

type matrixKey struct {
	src, dst schema.EngineKind
	t        schema.DataType
}

// Matrix - матрица совместимости типов (источник, цель, тип) -> Compatibility
type Matrix struct {
	mu    sync.RWMutex
	rules map[matrixKey]Compatibility
}

// NewMatrix создает пустую матрицу без правил
func NewMatrix() *Matrix {
	return &Matrix{rules: make(map[matrixKey]Compatibility)}
}

// Set регистрирует правило. src или dst могут быть AnyEngine.
func (m *Matrix) Set(src, dst schema.EngineKind, t schema.DataType, c Compatibility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[matrixKey{src, dst, t}] = c
}

// Lookup ищет правило: точное, затем по маске источника, затем по маске цели.
// Реляционные цели принимают любой нормализованный тип как есть.
// Неизвестная пара переносится в text без потерь.
func (m *Matrix) Lookup(src, dst schema.EngineKind, t schema.DataType) Compatibility {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range []matrixKey{{src, dst, t}, {AnyEngine, dst, t}, {src, AnyEngine, t}} {
		if c, ok := m.rules[k]; ok {
			return c
		}
	}

	if knownType(t) && !dst.IsDocumentStore() {
		return Compatibility{TargetType: t}
	}
	if t == schema.TypeText {
		return Compatibility{TargetType: schema.TypeText}
	}
	return Compatibility{
		TargetType:             schema.TypeText,
		RequiresTransformation: true,
		Hint:                   fmt.Sprintf("no mapping for %s on %s, value is stored as text", t, dst),
	}
}

// SuggestTransformation возвращает type-conversion, если пара требует трансформации
func (m *Matrix) SuggestTransformation(src, dst schema.EngineKind, t schema.DataType) *Config {
	c := m.Lookup(src, dst, t)
	if !c.RequiresTransformation {
		return nil
	}
	return &Config{Type: KindTypeConversion, TargetType: c.TargetType}
}

var (
	defaultMatrix     *Matrix
	defaultMatrixOnce sync.Once
)

// DefaultMatrix возвращает матрицу со стандартными правилами
func DefaultMatrix() *Matrix {
	defaultMatrixOnce.Do(func() {
		defaultMatrix = NewMatrix()
		registerDefaults(defaultMatrix)
	})
	return defaultMatrix
}

func registerDefaults(m *Matrix) {
	same := func(t schema.DataType) Compatibility { return Compatibility{TargetType: t} }
	text := func(hint string) Compatibility { return Compatibility{TargetType: schema.TypeText, Hint: hint} }
	convert := func(t schema.DataType, hint string) Compatibility {
		return Compatibility{TargetType: t, RequiresTransformation: true, Hint: hint}
	}

	// ObjectId из MongoDB везде кроме самой MongoDB хранится как hex
	m.Set(schema.KindMongoDB, AnyEngine, schema.TypeObjectID, text("ObjectId is stored as 24-char hex"))
	m.Set(schema.KindMongoDB, schema.KindMongoDB, schema.TypeObjectID, same(schema.TypeObjectID))

	// MySQL не хранит смещение часового пояса
	m.Set(AnyEngine, schema.KindMySQL, schema.TypeTimestampTZ,
		convert(schema.TypeTimestamp, "time zone offset is dropped, values are normalized to UTC"))

	m.Set(AnyEngine, schema.KindSQLServer, schema.TypeJSON, text("JSON is stored as NVARCHAR(MAX)"))
	m.Set(AnyEngine, schema.KindSQLite, schema.TypeTime, text("TIME is stored as text"))

	for _, t := range []schema.DataType{
		schema.TypeInteger, schema.TypeBigInt, schema.TypeReal, schema.TypeText,
		schema.TypeBoolean, schema.TypeJSON, schema.TypeBinary,
		schema.TypeDate, schema.TypeTimestamp, schema.TypeTimestampTZ,
	} {
		m.Set(AnyEngine, schema.KindMongoDB, t, same(t))
	}
	m.Set(AnyEngine, schema.KindMongoDB, schema.TypeDecimal, convert(schema.TypeText, "decimal is stored as string to keep precision"))
	m.Set(AnyEngine, schema.KindMongoDB, schema.TypeUUID, text("UUID is stored as string"))

	for _, t := range []schema.DataType{
		schema.TypeInteger, schema.TypeBigInt, schema.TypeReal, schema.TypeText,
		schema.TypeBoolean, schema.TypeJSON,
	} {
		m.Set(AnyEngine, schema.KindCouchDB, t, same(t))
	}
	for _, t := range []schema.DataType{schema.TypeDate, schema.TypeTime, schema.TypeTimestamp, schema.TypeTimestampTZ} {
		m.Set(AnyEngine, schema.KindCouchDB, t, convert(schema.TypeText, "JSON has no date type, use ISO-8601 text"))
	}
	m.Set(AnyEngine, schema.KindCouchDB, schema.TypeDecimal, convert(schema.TypeText, "decimal is stored as string to keep precision"))
	m.Set(AnyEngine, schema.KindCouchDB, schema.TypeBinary, convert(schema.TypeText, "binary is stored as base64 text or as an attachment"))
	m.Set(AnyEngine, schema.KindCouchDB, schema.TypeUUID, text("UUID is stored as string"))
	m.Set(AnyEngine, schema.KindCouchDB, schema.TypeObjectID, text("ObjectId is stored as 24-char hex"))
}
