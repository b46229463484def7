package base

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// ServicePrefix - префикс служебных таблиц мигратора, они не попадают в discovery
const ServicePrefix = "_etl_"

// Catalog читает метаданные каталога конкретного движка
type Catalog interface {
	Tables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error)
	Columns(ctx context.Context, db *sql.DB, schemaName, table string) ([]schema.Column, error)
}

// SQLEngine - универсальная реализация adapters.SQLEngine поверх database/sql.
// Пакеты движков встраивают его и переопределяют отдельные методы.
type SQLEngine struct {
	db            *sql.DB
	dialect       adapters.Dialect
	catalog       Catalog
	database      string
	defaultSchema string
}

// NewSQLEngine создает движок поверх открытого *sql.DB
func NewSQLEngine(db *sql.DB, dialect adapters.Dialect, catalog Catalog, database, defaultSchema string) *SQLEngine {
	return &SQLEngine{
		db:            db,
		dialect:       dialect,
		catalog:       catalog,
		database:      database,
		defaultSchema: defaultSchema,
	}
}

func (e *SQLEngine) Kind() schema.EngineKind   { return e.dialect.Kind() }
func (e *SQLEngine) Dialect() adapters.Dialect { return e.dialect }
func (e *SQLEngine) DB() *sql.DB               { return e.db }
func (e *SQLEngine) DefaultSchema() string     { return e.defaultSchema }

// Ping проверяет доступность БД
func (e *SQLEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close закрывает пул подключений
func (e *SQLEngine) Close() error {
	return e.db.Close()
}

// DiscoverSchema читает каталог: список таблиц и колонки каждой таблицы
func (e *SQLEngine) DiscoverSchema(ctx context.Context) (*schema.Database, error) {
	result := &schema.Database{Kind: e.Kind(), Name: e.database}

	tables, err := e.catalog.Tables(ctx, e.db, e.defaultSchema)
	if err != nil {
		return nil, &adapters.SchemaDiscoveryError{Engine: e.Kind(), Database: e.database, Err: err}
	}

	for _, name := range tables {
		if strings.HasPrefix(name, ServicePrefix) {
			continue
		}
		cols, err := e.catalog.Columns(ctx, e.db, e.defaultSchema, name)
		if err != nil {
			return nil, &adapters.SchemaDiscoveryError{Engine: e.Kind(), Database: e.database, Table: name, Err: err}
		}
		result.Tables = append(result.Tables, schema.Table{
			Name:    name,
			Schema:  e.defaultSchema,
			Columns: cols,
		})
	}

	return result, nil
}

// ExtractBatches читает таблицу курсором и отдает строки порциями.
// Пока fn обрабатывает порцию, курсор не продвигается.
func (e *SQLEngine) ExtractBatches(ctx context.Context, req adapters.ExtractRequest, fn adapters.BatchFunc) error {
	if req.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", req.BatchSize)
	}

	cols := "*"
	if len(req.Columns) > 0 {
		cols = strings.Join(quoteAll(e.dialect, req.Columns), ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", cols, e.Table(req.Table))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", req.Table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("failed to read column types: %w", err)
	}
	binary := make([]bool, len(types))
	for i, ct := range types {
		binary[i] = IsBinaryTypeName(ct.DatabaseTypeName())
	}

	batch := adapters.Batch{Columns: names, Rows: make([][]any, 0, req.BatchSize)}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok && !binary[i] {
				values[i] = string(b)
			}
		}
		batch.Rows = append(batch.Rows, values)

		if len(batch.Rows) == req.BatchSize {
			if err := fn(ctx, batch); err != nil {
				return err
			}
			batch = adapters.Batch{Columns: names, Rows: make([][]any, 0, req.BatchSize)}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration failed: %w", err)
	}

	if len(batch.Rows) > 0 {
		return fn(ctx, batch)
	}
	return nil
}

// LoadBatch вставляет порцию одной транзакцией многострочными INSERT
func (e *SQLEngine) LoadBatch(ctx context.Context, table adapters.TableRef, batch adapters.Batch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := InsertRows(ctx, tx, e.dialect, e.Table(table), batch)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return n, nil
}

// RowCount возвращает количество строк в таблице
func (e *SQLEngine) RowCount(ctx context.Context, table adapters.TableRef) (int64, error) {
	return CountRows(ctx, e.db, e.Table(table))
}

// Table возвращает экранированную ссылку, подставляя схему по умолчанию
func (e *SQLEngine) Table(ref adapters.TableRef) string {
	if ref.Schema == "" {
		ref.Schema = e.defaultSchema
	}
	return e.dialect.Table(ref)
}

// Execer - общий интерфейс *sql.DB и *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertRows вставляет строки кусками, не превышая лимит параметров диалекта
func InsertRows(ctx context.Context, ex Execer, d adapters.Dialect, table string, batch adapters.Batch) (int64, error) {
	perRow := len(batch.Columns)
	if perRow == 0 {
		return 0, fmt.Errorf("batch has no columns")
	}
	chunk := d.MaxParams() / perRow
	if chunk < 1 {
		chunk = 1
	}

	var total int64
	for start := 0; start < len(batch.Rows); start += chunk {
		end := start + chunk
		if end > len(batch.Rows) {
			end = len(batch.Rows)
		}
		rows := batch.Rows[start:end]

		args := make([]any, 0, len(rows)*perRow)
		for _, r := range rows {
			args = append(args, r...)
		}
		res, err := ex.ExecContext(ctx, InsertSQL(d, table, batch.Columns, len(rows)), args...)
		if err != nil {
			return total, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(len(rows))
		}
	}
	return total, nil
}

// CountRows выполняет SELECT COUNT(*)
func CountRows(ctx context.Context, ex Execer, table string) (int64, error) {
	var n int64
	if err := ex.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

// IsBinaryTypeName - бинарный ли тип по имени из драйвера
func IsBinaryTypeName(name string) bool {
	n := strings.ToUpper(name)
	return strings.Contains(n, "BLOB") || strings.Contains(n, "BINARY") ||
		n == "BYTEA" || n == "IMAGE"
}

var _ adapters.SQLEngine = (*SQLEngine)(nil)
