package idmap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

const (
	mappingsTable    = "_etl_id_mappings"
	attachmentsTable = "_etl_attachments"
)

// SQLStore хранит соответствия в служебных таблицах SQL-движка,
// чтобы они оставались доступны для аудита после выполнения
type SQLStore struct {
	db *sql.DB
	d  adapters.Dialect
}

// NewSQLStore создает служебные таблицы, если их нет
func NewSQLStore(ctx context.Context, engine adapters.SQLEngine) (*SQLStore, error) {
	s := &SQLStore{db: engine.DB(), d: engine.Dialect()}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	key := s.d.ColumnType(schema.TypeText, 255)
	text := s.d.ColumnType(schema.TypeText, 0)
	q := s.d.QuoteIdent

	ddl := []string{
		s.d.CreateTable(q(mappingsTable), []string{
			q("execution_id") + " " + key + " NOT NULL",
			q("table_name") + " " + key + " NOT NULL",
			q("source_id") + " " + key + " NOT NULL",
			q("source_id_column") + " " + key,
			q("target_id") + " " + key,
			q("target_id_column") + " " + key,
			"PRIMARY KEY (" + q("execution_id") + ", " + q("table_name") + ", " + q("source_id") + ")",
		}),
		s.d.CreateTable(q(attachmentsTable), []string{
			q("execution_id") + " " + key + " NOT NULL",
			q("table_name") + " " + key,
			q("document_id") + " " + key + " NOT NULL",
			q("attachment_name") + " " + key + " NOT NULL",
			q("source_url") + " " + text,
			q("target_url") + " " + text,
			q("content_type") + " " + key,
			q("size") + " " + s.d.ColumnType(schema.TypeBigInt, 0),
			q("checksum") + " " + key,
			q("status") + " " + key,
			q("attempts") + " " + s.d.ColumnType(schema.TypeInteger, 0),
			q("error") + " " + text,
			q("migrated_at") + " " + s.d.ColumnType(schema.TypeTimestamp, 0),
		}),
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create id mapping tables: %w", err)
		}
	}
	return nil
}

var mappingColumns = []string{"execution_id", "table_name", "source_id", "source_id_column", "target_id", "target_id_column"}

// SaveMappings удаляет прежние записи тех же ключей и вставляет новые в одной транзакции
func (s *SQLStore) SaveMappings(ctx context.Context, mappings []Mapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s AND %s = %s",
		s.d.QuoteIdent(mappingsTable),
		s.d.QuoteIdent("execution_id"), s.d.Placeholder(1),
		s.d.QuoteIdent("table_name"), s.d.Placeholder(2),
		s.d.QuoteIdent("source_id"), s.d.Placeholder(3))

	batch := adapters.Batch{Columns: mappingColumns, Rows: make([][]any, 0, len(mappings))}
	for _, m := range mappings {
		if _, err := tx.ExecContext(ctx, del, m.ExecutionID, m.Table, m.SourceID); err != nil {
			return fmt.Errorf("failed to replace id mapping: %w", err)
		}
		batch.Rows = append(batch.Rows, []any{m.ExecutionID, m.Table, m.SourceID, m.SourceIDColumn, m.TargetID, m.TargetIDColumn})
	}

	if _, err := base.InsertRows(ctx, tx, s.d, s.d.QuoteIdent(mappingsTable), batch); err != nil {
		return fmt.Errorf("failed to save id mappings: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) LoadTable(ctx context.Context, executionID, table string) (map[string]string, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = %s AND %s = %s",
		s.d.QuoteIdent("source_id"), s.d.QuoteIdent("target_id"), s.d.QuoteIdent(mappingsTable),
		s.d.QuoteIdent("execution_id"), s.d.Placeholder(1),
		s.d.QuoteIdent("table_name"), s.d.Placeholder(2))

	rows, err := s.db.QueryContext(ctx, query, executionID, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load id mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var src string
		var dst sql.NullString
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, err
		}
		out[src] = dst.String
	}
	return out, rows.Err()
}

func (s *SQLStore) CountMappings(ctx context.Context, executionID, table string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s AND %s = %s",
		s.d.QuoteIdent(mappingsTable),
		s.d.QuoteIdent("execution_id"), s.d.Placeholder(1),
		s.d.QuoteIdent("table_name"), s.d.Placeholder(2))

	var n int
	if err := s.db.QueryRowContext(ctx, query, executionID, table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count id mappings: %w", err)
	}
	return n, nil
}

var attachmentColumns = []string{
	"execution_id", "table_name", "document_id", "attachment_name", "source_url", "target_url",
	"content_type", "size", "checksum", "status", "attempts", "error", "migrated_at",
}

func (s *SQLStore) SaveAttachment(ctx context.Context, rec AttachmentRecord) error {
	query := base.InsertSQL(s.d, s.d.QuoteIdent(attachmentsTable), attachmentColumns, 1)
	_, err := s.db.ExecContext(ctx, query,
		rec.ExecutionID, rec.Table, rec.DocumentID, rec.AttachmentName, rec.SourceURL, rec.TargetURL,
		rec.ContentType, rec.Size, rec.Checksum, string(rec.Status), rec.Attempts, rec.Error, rec.MigratedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save attachment record: %w", err)
	}
	return nil
}

func (s *SQLStore) Attachments(ctx context.Context, executionID string) ([]AttachmentRecord, error) {
	cols := make([]string, len(attachmentColumns))
	for i, c := range attachmentColumns {
		cols[i] = s.d.QuoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s, %s",
		strings.Join(cols, ", "), s.d.QuoteIdent(attachmentsTable),
		s.d.QuoteIdent("execution_id"), s.d.Placeholder(1),
		s.d.QuoteIdent("document_id"), s.d.QuoteIdent("attachment_name"))

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attachment records: %w", err)
	}
	defer rows.Close()

	var out []AttachmentRecord
	for rows.Next() {
		var (
			rec                                        AttachmentRecord
			table, target, ctype, checksum, status, ee sql.NullString
			at                                         sql.NullTime
		)
		if err := rows.Scan(&rec.ExecutionID, &table, &rec.DocumentID, &rec.AttachmentName, &rec.SourceURL,
			&target, &ctype, &rec.Size, &checksum, &status, &rec.Attempts, &ee, &at); err != nil {
			return nil, err
		}
		rec.Table, rec.TargetURL, rec.ContentType = table.String, target.String, ctype.String
		rec.Checksum, rec.Status, rec.Error = checksum.String, AttachmentStatus(status.String), ee.String
		if at.Valid {
			rec.MigratedAt = at.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
