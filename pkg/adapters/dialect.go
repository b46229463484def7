package adapters

import "github.com/ruslano69/tdtp-migrator/pkg/core/schema"

// ReturningMode - как движок отдает ключ вставленной строки
type ReturningMode int

const (
	// ReturnRow - INSERT возвращает строку (RETURNING / OUTPUT INSERTED)
	ReturnRow ReturningMode = iota

	// ReturnLastInsertID - ключ берется из sql.Result.LastInsertId
	ReturnLastInsertID
)

// Dialect инкапсулирует различия SQL-синтаксиса движков.
// Все методы чистые: они только строят SQL, значения передаются параметрами.
type Dialect interface {
	Kind() schema.EngineKind

	// QuoteIdent экранирует идентификатор
	//   PostgreSQL/SQLite: "name"
	//   MySQL:             `name`
	//   MS SQL:            [name]
	QuoteIdent(name string) string

	// Placeholder возвращает n-й (с 1) параметр запроса: $1, ?, @p1
	Placeholder(n int) string

	// Table возвращает экранированную ссылку на таблицу
	Table(ref TableRef) string

	// MaxParams - лимит параметров в одном запросе
	MaxParams() int

	// SupportsSchemas - есть ли у движка пространства имен внутри базы
	SupportsSchemas() bool

	// CreateSchema возвращает DDL для создания схемы, если ее нет
	CreateSchema(name string) string

	// CreateTable возвращает DDL создания таблицы, если ее еще нет.
	// table уже экранирована, defs - готовые определения колонок.
	CreateTable(table string, defs []string) string

	// ColumnType возвращает тип колонки для DDL
	ColumnType(t schema.DataType, maxLength int) string

	// RowIDColumn - DDL суррогатного автоинкрементного ключа staging таблиц
	RowIDColumn(name string) string

	// Cast приводит выражение к нормализованному типу
	Cast(expr string, t schema.DataType) string

	// Concat склеивает выражения
	Concat(parts ...string) string

	Upper(expr string) string
	Lower(expr string) string
	Trim(expr string) string

	// FormatDate форматирует дату по шаблону из токенов YYYY MM DD HH mm ss
	FormatDate(expr, layout string) string

	// SelectPage строит keyset-запрос: одна страница после ключа-параметра
	SelectPage(columns []string, from, keyColumn string, limit int) string

	// InsertReturning строит INSERT одной строки с возвратом ключа
	InsertReturning(table string, columns []string, keyColumn string) (string, ReturningMode)

	// UpsertSelect строит INSERT ... SELECT с обновлением существующих ключей
	UpsertSelect(table string, columns, keys []string, selectSQL string) string
}
