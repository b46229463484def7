package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

func init() {
	adapters.Register(schema.KindMySQL, adapters.Driver{Open: Open, DSN: BuildDSN})
}

// Open открывает пул MySQL.
// parseTime включается принудительно: стадиям нужны time.Time, а не []byte.
func Open(ctx context.Context, cfg adapters.Config) (adapters.Engine, error) {
	mc, err := driver.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	mc.ParseTime = true
	mc.MultiStatements = false

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := cfg.Database
	if database == "" {
		database = mc.DBName
	}

	// В MySQL information_schema.table_schema = имя базы
	d := base.MySQL{}
	return base.NewSQLEngine(db, d, base.InformationSchema{Dialect: d}, database, database), nil
}

// BuildDSN строит DSN формата user:pass@tcp(host:port)/db
func BuildDSN(conn adapters.Connection, creds adapters.Credentials) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	mc := driver.NewConfig()
	mc.User = creds.User
	mc.Passwd = creds.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(port))
	mc.DBName = conn.Database
	mc.ParseTime = true
	if len(conn.Options) > 0 {
		mc.Params = make(map[string]string, len(conn.Options))
		for k, v := range conn.Options {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}
