package schema

import (
	"fmt"
	"strings"
)

// EngineKind - семейство СУБД, с которым работает мигратор
type EngineKind string

const (
	KindPostgres  EngineKind = "postgres"
	KindMySQL     EngineKind = "mysql"
	KindSQLServer EngineKind = "sqlserver"
	KindMongoDB   EngineKind = "mongodb"
	KindCouchDB   EngineKind = "couchdb"

	// KindSQLite - локальный workspace для staging и тестов
	KindSQLite EngineKind = "sqlite"
)

// ParseEngineKind разбирает имя движка с учетом синонимов
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return KindPostgres, nil
	case "mysql", "mariadb":
		return KindMySQL, nil
	case "sqlserver", "mssql":
		return KindSQLServer, nil
	case "mongodb", "mongo":
		return KindMongoDB, nil
	case "couchdb", "couch":
		return KindCouchDB, nil
	case "sqlite", "sqlite3":
		return KindSQLite, nil
	default:
		return "", fmt.Errorf("unknown engine kind: %q", s)
	}
}

// IsDocumentStore - true для schema-less хранилищ документов
func (k EngineKind) IsDocumentStore() bool {
	return k == KindMongoDB || k == KindCouchDB
}

// DataType - нормализованный тип колонки, общий для всех движков
type DataType string

const (
	TypeInteger     DataType = "integer"
	TypeBigInt      DataType = "bigint"
	TypeReal        DataType = "real"
	TypeDecimal     DataType = "decimal"
	TypeText        DataType = "text"
	TypeBoolean     DataType = "boolean"
	TypeDate        DataType = "date"
	TypeTime        DataType = "time"
	TypeTimestamp   DataType = "timestamp"
	TypeTimestampTZ DataType = "timestamptz"
	TypeBinary      DataType = "binary"
	TypeUUID        DataType = "uuid"
	TypeJSON        DataType = "json"
	TypeObjectID    DataType = "objectid"
)

// IsNumeric проверяет является ли тип числовым
func (t DataType) IsNumeric() bool {
	switch t {
	case TypeInteger, TypeBigInt, TypeReal, TypeDecimal:
		return true
	}
	return false
}

// IsTextual - типы, которые хранятся как строки
func (t DataType) IsTextual() bool {
	switch t {
	case TypeText, TypeUUID, TypeJSON, TypeObjectID:
		return true
	}
	return false
}

// IsTemporal проверяет является ли тип временным
func (t DataType) IsTemporal() bool {
	switch t {
	case TypeDate, TypeTime, TypeTimestamp, TypeTimestampTZ:
		return true
	}
	return false
}

// NormalizeType приводит объявленный тип движка к нормализованному типу.
// Возвращает также длину из объявления вида varchar(255), если она есть.
// Неизвестные типы отображаются в text.
func NormalizeType(kind EngineKind, declared string) (DataType, int) {
	base, length := splitDeclared(declared)

	switch base {
	case "int", "integer", "int4", "int2", "smallint", "tinyint", "mediumint",
		"serial", "smallserial", "int32":
		if base == "tinyint" && length == 1 && kind == KindMySQL {
			return TypeBoolean, 0
		}
		return TypeInteger, 0
	case "bigint", "int8", "bigserial", "int64", "long":
		return TypeBigInt, 0
	case "real", "float", "float4", "float8", "double", "double precision", "smallmoney", "money":
		return TypeReal, 0
	case "decimal", "numeric", "number", "decimal128":
		return TypeDecimal, 0
	case "bool", "boolean", "bit":
		return TypeBoolean, 0
	case "date":
		return TypeDate, 0
	case "time", "time without time zone", "time with time zone":
		return TypeTime, 0
	case "timestamp", "timestamp without time zone", "datetime", "datetime2", "smalldatetime":
		if kind == KindMongoDB {
			return TypeTimestampTZ, 0
		}
		return TypeTimestamp, 0
	case "timestamptz", "timestamp with time zone", "datetimeoffset":
		return TypeTimestampTZ, 0
	case "bytea", "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary",
		"image", "bindata":
		return TypeBinary, length
	case "uuid", "uniqueidentifier":
		return TypeUUID, 0
	case "json", "jsonb", "object", "array", "document":
		return TypeJSON, 0
	case "objectid":
		return TypeObjectID, 0
	case "varchar", "nvarchar", "char", "nchar", "character varying", "character",
		"text", "ntext", "tinytext", "mediumtext", "longtext", "string", "citext", "enum":
		return TypeText, length
	}

	return TypeText, length
}

// splitDeclared разбирает "varchar(255)" на базовое имя и длину
func splitDeclared(declared string) (string, int) {
	d := strings.ToLower(strings.TrimSpace(declared))
	length := 0
	if i := strings.IndexByte(d, '('); i >= 0 {
		args := strings.TrimSuffix(d[i+1:], ")")
		if j := strings.IndexByte(args, ','); j >= 0 {
			args = args[:j]
		}
		fmt.Sscanf(strings.TrimSpace(args), "%d", &length)
		d = strings.TrimSpace(d[:i])
	}
	d = strings.TrimSuffix(d, " unsigned")
	d = strings.TrimSuffix(d, "[]")
	return d, length
}
