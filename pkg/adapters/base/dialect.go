package base

import (
	"fmt"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// DialectFor возвращает диалект для SQL-движка
func DialectFor(kind schema.EngineKind) (adapters.Dialect, bool) {
	switch kind {
	case schema.KindPostgres:
		return Postgres{}, true
	case schema.KindMySQL:
		return MySQL{}, true
	case schema.KindSQLServer:
		return SQLServer{}, true
	case schema.KindSQLite:
		return SQLite{}, true
	}
	return nil, false
}

func quoteWith(name, open, close string) string {
	return open + strings.ReplaceAll(name, close, close+close) + close
}

func quoteAll(d adapters.Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return out
}

func placeholders(d adapters.Dialect, start, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = d.Placeholder(start + i)
	}
	return strings.Join(p, ", ")
}

func tableRef(d adapters.Dialect, ref adapters.TableRef) string {
	if ref.Schema == "" || !d.SupportsSchemas() {
		return d.QuoteIdent(ref.Name)
	}
	return d.QuoteIdent(ref.Schema) + "." + d.QuoteIdent(ref.Name)
}

// translateLayout переводит токены YYYY MM DD HH mm ss в синтаксис движка
func translateLayout(layout string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(layout)
}

// nonKeyColumns возвращает колонки, которые не входят в ключ
func nonKeyColumns(columns, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[strings.ToLower(k)] = true
	}
	var out []string
	for _, c := range columns {
		if !isKey[strings.ToLower(c)] {
			out = append(out, c)
		}
	}
	return out
}

func createTable(table string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
}

// InsertSQL строит многострочный INSERT для rows строк
func InsertSQL(d adapters.Dialect, table string, columns []string, rows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(quoteAll(d, columns), ", "))
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		sb.WriteString(placeholders(d, r*len(columns)+1, len(columns)))
		sb.WriteString(")")
	}
	return sb.String()
}

// ========== PostgreSQL ==========

// Postgres - диалект PostgreSQL
type Postgres struct{}

func (Postgres) Kind() schema.EngineKind { return schema.KindPostgres }
func (Postgres) QuoteIdent(name string) string { return quoteWith(name, `"`, `"`) }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (d Postgres) Table(ref adapters.TableRef) string { return tableRef(d, ref) }
func (Postgres) MaxParams() int { return 65535 }
func (Postgres) SupportsSchemas() bool { return true }

func (d Postgres) CreateSchema(name string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + d.QuoteIdent(name)
}

func (Postgres) CreateTable(table string, defs []string) string { return createTable(table, defs) }

func (Postgres) ColumnType(t schema.DataType, maxLength int) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeReal:
		return "DOUBLE PRECISION"
	case schema.TypeDecimal:
		return "NUMERIC"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTime:
		return "TIME"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	case schema.TypeTimestampTZ:
		return "TIMESTAMPTZ"
	case schema.TypeBinary:
		return "BYTEA"
	case schema.TypeUUID:
		return "UUID"
	case schema.TypeJSON:
		return "JSONB"
	case schema.TypeObjectID:
		return "VARCHAR(24)"
	}
	if maxLength > 0 {
		return fmt.Sprintf("VARCHAR(%d)", maxLength)
	}
	return "TEXT"
}

func (d Postgres) RowIDColumn(name string) string {
	return d.QuoteIdent(name) + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (d Postgres) Cast(expr string, t schema.DataType) string {
	return fmt.Sprintf("CAST(%s AS %s)", expr, d.ColumnType(t, 0))
}

func (Postgres) Concat(parts ...string) string { return "CONCAT(" + strings.Join(parts, ", ") + ")" }
func (Postgres) Upper(expr string) string { return "UPPER(" + expr + ")" }
func (Postgres) Lower(expr string) string { return "LOWER(" + expr + ")" }
func (Postgres) Trim(expr string) string { return "TRIM(" + expr + ")" }

func (Postgres) FormatDate(expr, layout string) string {
	f := translateLayout(layout, "YYYY", "YYYY", "MM", "MM", "DD", "DD", "HH", "HH24", "mm", "MI", "ss", "SS")
	return fmt.Sprintf("TO_CHAR(%s, '%s')", expr, strings.ReplaceAll(f, "'", "''"))
}

func (d Postgres) SelectPage(columns []string, from, keyColumn string, limit int) string {
	k := d.QuoteIdent(keyColumn)
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s > $1 ORDER BY %s LIMIT %d",
		strings.Join(quoteAll(d, columns), ", "), from, k, k, limit)
}

func (d Postgres) InsertReturning(table string, columns []string, keyColumn string) (string, adapters.ReturningMode) {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		table, strings.Join(quoteAll(d, columns), ", "), placeholders(d, 1, len(columns)),
		d.QuoteIdent(keyColumn)), adapters.ReturnRow
}

func (d Postgres) UpsertSelect(table string, columns, keys []string, selectSQL string) string {
	q := fmt.Sprintf("INSERT INTO %s (%s) %s ON CONFLICT (%s)",
		table, strings.Join(quoteAll(d, columns), ", "), selectSQL, strings.Join(quoteAll(d, keys), ", "))
	rest := nonKeyColumns(columns, keys)
	if len(rest) == 0 {
		return q + " DO NOTHING"
	}
	sets := make([]string, len(rest))
	for i, c := range rest {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", d.QuoteIdent(c), d.QuoteIdent(c))
	}
	return q + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// ========== MySQL ==========

// MySQL - диалект MySQL/MariaDB. Схемой считается сама база.
type MySQL struct{}

func (MySQL) Kind() schema.EngineKind { return schema.KindMySQL }
func (MySQL) QuoteIdent(name string) string { return quoteWith(name, "`", "`") }
func (MySQL) Placeholder(int) string { return "?" }
func (d MySQL) Table(ref adapters.TableRef) string { return tableRef(d, ref) }
func (MySQL) MaxParams() int { return 65535 }
func (MySQL) SupportsSchemas() bool { return false }
func (MySQL) CreateSchema(string) string { return "" }

func (MySQL) CreateTable(table string, defs []string) string { return createTable(table, defs) }

func (MySQL) ColumnType(t schema.DataType, maxLength int) string {
	switch t {
	case schema.TypeInteger:
		return "INT"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeReal:
		return "DOUBLE"
	case schema.TypeDecimal:
		return "DECIMAL(38,10)"
	case schema.TypeBoolean:
		return "TINYINT(1)"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTime:
		return "TIME"
	case schema.TypeTimestamp, schema.TypeTimestampTZ:
		return "DATETIME(6)"
	case schema.TypeBinary:
		return "LONGBLOB"
	case schema.TypeUUID:
		return "CHAR(36)"
	case schema.TypeJSON:
		return "JSON"
	case schema.TypeObjectID:
		return "CHAR(24)"
	}
	if maxLength > 0 && maxLength <= 16383 {
		return fmt.Sprintf("VARCHAR(%d)", maxLength)
	}
	return "LONGTEXT"
}

func (d MySQL) RowIDColumn(name string) string {
	return d.QuoteIdent(name) + " BIGINT AUTO_INCREMENT PRIMARY KEY"
}

func (MySQL) Cast(expr string, t schema.DataType) string {
	var target string
	switch t {
	case schema.TypeInteger, schema.TypeBigInt, schema.TypeBoolean:
		target = "SIGNED"
	case schema.TypeReal:
		target = "DOUBLE"
	case schema.TypeDecimal:
		target = "DECIMAL(38,10)"
	case schema.TypeDate:
		target = "DATE"
	case schema.TypeTime:
		target = "TIME"
	case schema.TypeTimestamp, schema.TypeTimestampTZ:
		target = "DATETIME(6)"
	case schema.TypeBinary:
		target = "BINARY"
	case schema.TypeJSON:
		target = "JSON"
	default:
		target = "CHAR"
	}
	return fmt.Sprintf("CAST(%s AS %s)", expr, target)
}

func (MySQL) Concat(parts ...string) string { return "CONCAT(" + strings.Join(parts, ", ") + ")" }
func (MySQL) Upper(expr string) string { return "UPPER(" + expr + ")" }
func (MySQL) Lower(expr string) string { return "LOWER(" + expr + ")" }
func (MySQL) Trim(expr string) string { return "TRIM(" + expr + ")" }

func (MySQL) FormatDate(expr, layout string) string {
	f := translateLayout(layout, "YYYY", "%Y", "MM", "%m", "DD", "%d", "HH", "%H", "mm", "%i", "ss", "%s")
	return fmt.Sprintf("DATE_FORMAT(%s, '%s')", expr, strings.ReplaceAll(f, "'", "''"))
}

func (d MySQL) SelectPage(columns []string, from, keyColumn string, limit int) string {
	k := d.QuoteIdent(keyColumn)
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s LIMIT %d",
		strings.Join(quoteAll(d, columns), ", "), from, k, k, limit)
}

func (d MySQL) InsertReturning(table string, columns []string, _ string) (string, adapters.ReturningMode) {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoteAll(d, columns), ", "), placeholders(d, 1, len(columns))), adapters.ReturnLastInsertID
}

func (d MySQL) UpsertSelect(table string, columns, keys []string, selectSQL string) string {
	rest := nonKeyColumns(columns, keys)
	if len(rest) == 0 {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) %s", table, strings.Join(quoteAll(d, columns), ", "), selectSQL)
	}
	sets := make([]string, len(rest))
	for i, c := range rest {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", d.QuoteIdent(c), d.QuoteIdent(c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) %s ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(quoteAll(d, columns), ", "), selectSQL, strings.Join(sets, ", "))
}

// ========== MS SQL Server ==========

// SQLServer - диалект MS SQL Server (2016+)
type SQLServer struct{}

func (SQLServer) Kind() schema.EngineKind { return schema.KindSQLServer }
func (SQLServer) QuoteIdent(name string) string { return quoteWith(name, "[", "]") }
func (SQLServer) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }
func (d SQLServer) Table(ref adapters.TableRef) string { return tableRef(d, ref) }

// MaxParams - у SQL Server лимит 2100 параметров на запрос
func (SQLServer) MaxParams() int { return 2000 }
func (SQLServer) SupportsSchemas() bool { return true }

func (SQLServer) CreateSchema(name string) string {
	lit := strings.ReplaceAll(name, "'", "''")
	ident := strings.ReplaceAll(quoteWith(name, "[", "]"), "'", "''")
	return fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC('CREATE SCHEMA %s')", lit, ident)
}

func (SQLServer) CreateTable(table string, defs []string) string {
	lit := strings.ReplaceAll(table, "'", "''")
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", lit, table, strings.Join(defs, ", "))
}

func (SQLServer) ColumnType(t schema.DataType, maxLength int) string {
	switch t {
	case schema.TypeInteger:
		return "INT"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeReal:
		return "FLOAT"
	case schema.TypeDecimal:
		return "DECIMAL(38,10)"
	case schema.TypeBoolean:
		return "BIT"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTime:
		return "TIME"
	case schema.TypeTimestamp:
		return "DATETIME2"
	case schema.TypeTimestampTZ:
		return "DATETIMEOFFSET"
	case schema.TypeBinary:
		return "VARBINARY(MAX)"
	case schema.TypeUUID:
		return "UNIQUEIDENTIFIER"
	case schema.TypeObjectID:
		return "NVARCHAR(24)"
	}
	if maxLength > 0 && maxLength <= 4000 {
		return fmt.Sprintf("NVARCHAR(%d)", maxLength)
	}
	return "NVARCHAR(MAX)"
}

func (d SQLServer) RowIDColumn(name string) string {
	return d.QuoteIdent(name) + " BIGINT IDENTITY(1,1) PRIMARY KEY"
}

func (d SQLServer) Cast(expr string, t schema.DataType) string {
	return fmt.Sprintf("CAST(%s AS %s)", expr, d.ColumnType(t, 0))
}

func (SQLServer) Concat(parts ...string) string { return "CONCAT(" + strings.Join(parts, ", ") + ")" }
func (SQLServer) Upper(expr string) string { return "UPPER(" + expr + ")" }
func (SQLServer) Lower(expr string) string { return "LOWER(" + expr + ")" }
func (SQLServer) Trim(expr string) string { return "LTRIM(RTRIM(" + expr + "))" }

func (SQLServer) FormatDate(expr, layout string) string {
	f := translateLayout(layout, "YYYY", "yyyy", "MM", "MM", "DD", "dd", "HH", "HH", "mm", "mm", "ss", "ss")
	return fmt.Sprintf("FORMAT(%s, '%s')", expr, strings.ReplaceAll(f, "'", "''"))
}

func (d SQLServer) SelectPage(columns []string, from, keyColumn string, limit int) string {
	k := d.QuoteIdent(keyColumn)
	return fmt.Sprintf("SELECT TOP (%d) %s FROM %s WHERE %s > @p1 ORDER BY %s",
		limit, strings.Join(quoteAll(d, columns), ", "), from, k, k)
}

func (d SQLServer) InsertReturning(table string, columns []string, keyColumn string) (string, adapters.ReturningMode) {
	return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES (%s)",
		table, strings.Join(quoteAll(d, columns), ", "), d.QuoteIdent(keyColumn),
		placeholders(d, 1, len(columns))), adapters.ReturnRow
}

func (d SQLServer) UpsertSelect(table string, columns, keys []string, selectSQL string) string {
	on := make([]string, len(keys))
	for i, k := range keys {
		on[i] = fmt.Sprintf("tgt.%s = src.%s", d.QuoteIdent(k), d.QuoteIdent(k))
	}
	srcCols := make([]string, len(columns))
	for i, c := range columns {
		srcCols[i] = "src." + d.QuoteIdent(c)
	}

	q := fmt.Sprintf("MERGE INTO %s AS tgt USING (%s) AS src (%s) ON %s",
		table, selectSQL, strings.Join(quoteAll(d, columns), ", "), strings.Join(on, " AND "))
	if rest := nonKeyColumns(columns, keys); len(rest) > 0 {
		sets := make([]string, len(rest))
		for i, c := range rest {
			sets[i] = fmt.Sprintf("tgt.%s = src.%s", d.QuoteIdent(c), d.QuoteIdent(c))
		}
		q += " WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ", ")
	}
	return q + fmt.Sprintf(" WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		strings.Join(quoteAll(d, columns), ", "), strings.Join(srcCols, ", "))
}

// ========== SQLite ==========

// SQLite - диалект SQLite (3.35+, нужен RETURNING)
type SQLite struct{}

func (SQLite) Kind() schema.EngineKind { return schema.KindSQLite }
func (SQLite) QuoteIdent(name string) string { return quoteWith(name, `"`, `"`) }
func (SQLite) Placeholder(int) string { return "?" }
func (d SQLite) Table(ref adapters.TableRef) string { return tableRef(d, ref) }
func (SQLite) MaxParams() int { return 32766 }
func (SQLite) SupportsSchemas() bool { return false }
func (SQLite) CreateSchema(string) string { return "" }

func (SQLite) CreateTable(table string, defs []string) string { return createTable(table, defs) }

func (SQLite) ColumnType(t schema.DataType, _ int) string {
	switch t {
	case schema.TypeInteger, schema.TypeBigInt:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	case schema.TypeDecimal:
		return "NUMERIC"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTimestamp, schema.TypeTimestampTZ:
		return "TIMESTAMP"
	case schema.TypeBinary:
		return "BLOB"
	}
	return "TEXT"
}

func (d SQLite) RowIDColumn(name string) string {
	return d.QuoteIdent(name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (SQLite) Cast(expr string, t schema.DataType) string {
	switch t {
	case schema.TypeInteger, schema.TypeBigInt, schema.TypeBoolean:
		return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
	case schema.TypeReal:
		return fmt.Sprintf("CAST(%s AS REAL)", expr)
	case schema.TypeDecimal:
		return fmt.Sprintf("CAST(%s AS NUMERIC)", expr)
	case schema.TypeDate:
		return fmt.Sprintf("date(%s)", expr)
	case schema.TypeTimestamp, schema.TypeTimestampTZ:
		return fmt.Sprintf("datetime(%s)", expr)
	case schema.TypeBinary:
		return fmt.Sprintf("CAST(%s AS BLOB)", expr)
	}
	return fmt.Sprintf("CAST(%s AS TEXT)", expr)
}

func (SQLite) Concat(parts ...string) string { return "(" + strings.Join(parts, " || ") + ")" }
func (SQLite) Upper(expr string) string { return "UPPER(" + expr + ")" }
func (SQLite) Lower(expr string) string { return "LOWER(" + expr + ")" }
func (SQLite) Trim(expr string) string { return "TRIM(" + expr + ")" }

func (SQLite) FormatDate(expr, layout string) string {
	f := translateLayout(layout, "YYYY", "%Y", "MM", "%m", "DD", "%d", "HH", "%H", "mm", "%M", "ss", "%S")
	return fmt.Sprintf("strftime('%s', %s)", strings.ReplaceAll(f, "'", "''"), expr)
}

func (d SQLite) SelectPage(columns []string, from, keyColumn string, limit int) string {
	k := d.QuoteIdent(keyColumn)
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s LIMIT %d",
		strings.Join(quoteAll(d, columns), ", "), from, k, k, limit)
}

func (d SQLite) InsertReturning(table string, columns []string, keyColumn string) (string, adapters.ReturningMode) {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		table, strings.Join(quoteAll(d, columns), ", "), placeholders(d, 1, len(columns)),
		d.QuoteIdent(keyColumn)), adapters.ReturnRow
}

// UpsertSelect оборачивает SELECT в подзапрос с WHERE true:
// без него парсер SQLite путает ON CONFLICT с условием JOIN
func (d SQLite) UpsertSelect(table string, columns, keys []string, selectSQL string) string {
	q := fmt.Sprintf("INSERT INTO %s (%s) SELECT * FROM (%s) WHERE true ON CONFLICT (%s)",
		table, strings.Join(quoteAll(d, columns), ", "), selectSQL, strings.Join(quoteAll(d, keys), ", "))
	rest := nonKeyColumns(columns, keys)
	if len(rest) == 0 {
		return q + " DO NOTHING"
	}
	sets := make([]string, len(rest))
	for i, c := range rest {
		sets[i] = fmt.Sprintf("%s = excluded.%s", d.QuoteIdent(c), d.QuoteIdent(c))
	}
	return q + " DO UPDATE SET " + strings.Join(sets, ", ")
}

var (
	_ adapters.Dialect = Postgres{}
	_ adapters.Dialect = MySQL{}
	_ adapters.Dialect = SQLServer{}
	_ adapters.Dialect = SQLite{}
)
