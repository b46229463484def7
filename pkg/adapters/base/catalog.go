package base

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// InformationSchema читает метаданные из information_schema.
// Подходит для PostgreSQL, MySQL и MS SQL Server.
type InformationSchema struct {
	Dialect adapters.Dialect
}

// Tables возвращает базовые таблицы схемы, отсортированные по имени
func (c InformationSchema) Tables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error) {
	query := fmt.Sprintf(`SELECT table_name FROM information_schema.tables
		WHERE table_schema = %s AND table_type = 'BASE TABLE'
		ORDER BY table_name`, c.Dialect.Placeholder(1))

	rows, err := db.QueryContext(ctx, query, schemaName)
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

// Columns возвращает колонки таблицы с признаком первичного ключа
func (c InformationSchema) Columns(ctx context.Context, db *sql.DB, schemaName, table string) ([]schema.Column, error) {
	pk, err := c.primaryKey(ctx, db, schemaName, table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT column_name, data_type, is_nullable,
			character_maximum_length, column_default
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position`, c.Dialect.Placeholder(1), c.Dialect.Placeholder(2))

	rows, err := db.QueryContext(ctx, query, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			name, dataType, nullable string
			maxLen                   sql.NullInt64
			def                      sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &nullable, &maxLen, &def); err != nil {
			return nil, err
		}

		normalized, _ := schema.NormalizeType(c.Dialect.Kind(), dataType)
		col := schema.Column{
			Name:         name,
			Schema:       schemaName,
			DataType:     dataType,
			Type:         normalized,
			Nullable:     nullable == "YES",
			IsPrimaryKey: pk[name],
		}
		// -1 означает MAX у SQL Server
		if maxLen.Valid && maxLen.Int64 > 0 {
			col.MaxLength = int(maxLen.Int64)
		}
		if def.Valid {
			d := def.String
			col.Default = &d
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (c InformationSchema) primaryKey(ctx context.Context, db *sql.DB, schemaName, table string) (map[string]bool, error) {
	query := fmt.Sprintf(`SELECT k.column_name
		FROM information_schema.table_constraints t
		JOIN information_schema.key_column_usage k
		  ON t.constraint_name = k.constraint_name
		 AND t.table_schema = k.table_schema
		 AND t.table_name = k.table_name
		WHERE t.constraint_type = 'PRIMARY KEY'
		  AND t.table_schema = %s AND t.table_name = %s`,
		c.Dialect.Placeholder(1), c.Dialect.Placeholder(2))

	rows, err := db.QueryContext(ctx, query, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary key: %w", err)
	}
	defer rows.Close()

	pk := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pk[name] = true
	}
	return pk, rows.Err()
}
