/*
Package adapters описывает capability-интерфейс движков, с которыми работает мигратор.

# Архитектура

	┌─────────────────────────────────────────┐
	│   Stage executors (pkg/etl)             │
	└─────────────────┬───────────────────────┘
	                  │ Engine / SQLEngine
	┌─────────────────▼───────────────────────┐
	│  type Engine interface {                │  ← pkg/adapters/adapter.go
	│    DiscoverSchema(ctx)                  │
	│    ExtractBatches(ctx, req, fn)         │
	│    LoadBatch(ctx, table, batch)         │
	│    RowCount(ctx, table)                 │
	│  }                                      │
	└─────────────────┬───────────────────────┘
	                  │
	  ┌───────┬───────┼───────┬────────┬────────┐
	  │       │       │       │        │        │
	postgres mysql  mssql  sqlite  mongodb  couchdb

Стадии никогда не проверяют тип движка строкой: все различия SQL-диалектов
спрятаны за Dialect, а различия протоколов за Engine.

# Регистрация

Каждый пакет движка регистрирует себя в init():

	func init() {
	    adapters.Register(schema.KindPostgres, adapters.Driver{
	        Open: Open,
	        DSN:  BuildDSN,
	    })
	}

Приложение подключает нужные движки blank-импортом и открывает их через фабрику:

	import _ "github.com/ruslano69/tdtp-migrator/pkg/adapters/postgres"

	engine, err := adapters.Open(ctx, conn, resolver)
	if err != nil {
	    return err
	}
	defer engine.Close()
*/
package adapters
