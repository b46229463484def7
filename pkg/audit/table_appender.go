package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// AuditTable - служебная таблица аудита на целевом движке
const AuditTable = base.ServicePrefix + "audit"

var auditColumns = []string{
	"id", "ts", "execution_id", "operation", "status", "user_name", "table_name",
	"records_affected", "records_failed", "duration_ms", "error_message", "metadata",
}

// TableAppender пишет аудит в таблицу SQL-движка, порциями по BatchSize
type TableAppender struct {
	mu        sync.Mutex
	db        *sql.DB
	d         adapters.Dialect
	level     Level
	batchSize int
	queue     []*Entry
}

// NewTableAppender создаёт таблицу аудита, если её нет.
// batchSize <= 1 означает запись каждой записи сразу.
func NewTableAppender(ctx context.Context, engine adapters.SQLEngine, level Level, batchSize int) (*TableAppender, error) {
	if level == 0 {
		level = LevelStandard
	}
	ta := &TableAppender{db: engine.DB(), d: engine.Dialect(), level: level, batchSize: batchSize}

	key := ta.d.ColumnType(schema.TypeText, 255)
	text := ta.d.ColumnType(schema.TypeText, 0)
	big := ta.d.ColumnType(schema.TypeBigInt, 0)
	q := ta.d.QuoteIdent
	ddl := ta.d.CreateTable(q(AuditTable), []string{
		q("id") + " " + key + " PRIMARY KEY",
		q("ts") + " " + ta.d.ColumnType(schema.TypeTimestamp, 0) + " NOT NULL",
		q("execution_id") + " " + key,
		q("operation") + " " + key + " NOT NULL",
		q("status") + " " + key + " NOT NULL",
		q("user_name") + " " + key,
		q("table_name") + " " + key,
		q("records_affected") + " " + big,
		q("records_failed") + " " + big,
		q("duration_ms") + " " + big,
		q("error_message") + " " + text,
		q("metadata") + " " + text,
	})
	if _, err := ta.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return ta, nil
}

func (ta *TableAppender) Append(ctx context.Context, entry *Entry) error {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	ta.queue = append(ta.queue, entry.FilterByLevel(ta.level))
	if len(ta.queue) < ta.batchSize {
		return nil
	}
	return ta.flush(ctx)
}

func (ta *TableAppender) flush(ctx context.Context) error {
	if len(ta.queue) == 0 {
		return nil
	}
	batch := adapters.Batch{Columns: auditColumns, Rows: make([][]any, 0, len(ta.queue))}
	for _, e := range ta.queue {
		var meta any
		if len(e.Metadata) > 0 {
			raw, _ := json.Marshal(e.Metadata)
			meta = string(raw)
		}
		batch.Rows = append(batch.Rows, []any{
			e.ID, e.Timestamp, e.ExecutionID, string(e.Operation), string(e.Status), e.User, e.Table,
			e.RecordsAffected, e.RecordsFailed, e.Duration.Milliseconds(), e.ErrorMessage, meta,
		})
	}

	tx, err := ta.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := base.InsertRows(ctx, tx, ta.d, ta.d.QuoteIdent(AuditTable), batch); err != nil {
		return fmt.Errorf("failed to write audit entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ta.queue = ta.queue[:0]
	return nil
}

// Count возвращает число записей аудита выполнения
func (ta *TableAppender) Count(ctx context.Context, executionID string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		ta.d.QuoteIdent(AuditTable), ta.d.QuoteIdent("execution_id"), ta.d.Placeholder(1))
	var n int64
	if err := ta.db.QueryRowContext(ctx, query, executionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}

// Flush дописывает неполную порцию
func (ta *TableAppender) Flush(ctx context.Context) error {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	return ta.flush(ctx)
}

// Close сбрасывает очередь. Соединение принадлежит движку и не закрывается.
func (ta *TableAppender) Close() error {
	return ta.Flush(context.Background())
}
