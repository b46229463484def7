package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// Регистрация движка в глобальной фабрике
func init() {
	adapters.Register(schema.KindPostgres, adapters.Driver{Open: Open, DSN: BuildDSN})
}

// Engine - движок PostgreSQL на пуле pgx.
// Запросы стадий идут через database/sql поверх того же пула,
// массовая вставка через COPY.
type Engine struct {
	*base.SQLEngine
	pool *pgxpool.Pool
}

// Open создает пул подключений
func Open(ctx context.Context, cfg adapters.Config) (adapters.Engine, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	} else {
		config.MaxConns = 10
	}
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	schemaName := cfg.Schema
	if schemaName == "" {
		schemaName = "public"
	}
	database := cfg.Database
	if database == "" {
		database = config.ConnConfig.Database
	}

	d := base.Postgres{}
	return &Engine{
		SQLEngine: base.NewSQLEngine(stdlib.OpenDBFromPool(pool), d, base.InformationSchema{Dialect: d}, database, schemaName),
		pool:      pool,
	}, nil
}

// BuildDSN строит postgres:// URL
func BuildDSN(conn adapters.Connection, creds adapters.Credentials) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(conn.Host, strconv.Itoa(port)),
		Path:   "/" + conn.Database,
	}
	if creds.User != "" {
		u.User = url.UserPassword(creds.User, creds.Password)
	}
	q := url.Values{}
	for k, v := range conn.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Close закрывает database/sql обертку и пул
func (e *Engine) Close() error {
	err := e.SQLEngine.Close()
	e.pool.Close()
	return err
}

// Pool возвращает *pgxpool.Pool для прямого доступа
func (e *Engine) Pool() *pgxpool.Pool {
	return e.pool
}

// LoadBatch вставляет порцию через COPY FROM.
// Если COPY не смог закодировать значения в бинарный формат,
// порция повторяется обычным INSERT с текстовыми параметрами.
func (e *Engine) LoadBatch(ctx context.Context, table adapters.TableRef, batch adapters.Batch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	if table.Schema == "" {
		table.Schema = e.DefaultSchema()
	}

	n, err := e.pool.CopyFrom(ctx, pgx.Identifier{table.Schema, table.Name}, batch.Columns, pgx.CopyFromRows(batch.Rows))
	if err == nil {
		return n, nil
	}

	log.Debug().Err(err).Str("table", table.String()).Msg("COPY failed, falling back to INSERT")
	return e.SQLEngine.LoadBatch(ctx, table, batch)
}

var _ adapters.SQLEngine = (*Engine)(nil)
