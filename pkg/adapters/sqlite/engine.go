package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

const driverSqlite = "sqlite"

func init() {
	adapters.Register(schema.KindSQLite, adapters.Driver{Open: Open, DSN: BuildDSN})
}

// Open открывает файл SQLite (или :memory:).
// Пул ограничен одним подключением: SQLite сериализует запись,
// а :memory: база существует только в своем подключении.
func Open(ctx context.Context, cfg adapters.Config) (adapters.Engine, error) {
	db, err := sql.Open(driverSqlite, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}

	return base.NewSQLEngine(db, base.SQLite{}, Catalog{}, cfg.DSN, ""), nil
}

// BuildDSN - для SQLite база это путь к файлу
func BuildDSN(conn adapters.Connection, _ adapters.Credentials) string {
	return conn.Database
}

// applyPragmas применяет настройки для массовой загрузки
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		// WAL: запись не блокирует чтение
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		// нужен, чтобы нарушения FK превращались в InvalidReference
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Catalog читает метаданные через sqlite_master и pragma_table_info
type Catalog struct{}

// Tables возвращает пользовательские таблицы
func (Catalog) Tables(ctx context.Context, db *sql.DB, _ string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns читает pragma_table_info
func (Catalog) Columns(ctx context.Context, db *sql.DB, _ string, table string) ([]schema.Column, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			name, declared string
			notNull, pk    int
			def            sql.NullString
		)
		if err := rows.Scan(&name, &declared, &notNull, &def, &pk); err != nil {
			return nil, err
		}

		normalized, length := schema.NormalizeType(schema.KindSQLite, declared)
		col := schema.Column{
			Name:         name,
			DataType:     strings.ToUpper(declared),
			Type:         normalized,
			Nullable:     notNull == 0 && pk == 0,
			IsPrimaryKey: pk > 0,
			MaxLength:    length,
		}
		if def.Valid {
			d := strings.Trim(def.String, "'")
			col.Default = &d
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}
