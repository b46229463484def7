package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/etl"
	"github.com/ruslano69/tdtp-migrator/pkg/idmap"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
)

// idmapFile - файл SQLite для ID mapping между запусками (пусто = в памяти)
var idmapFile string

// openRepository читает файл проекта из --projects
func openRepository() (*mapping.YAMLRepository, error) {
	repo, err := mapping.NewYAMLRepository(projectsFile)
	if err != nil {
		return nil, fmt.Errorf("projects %s: %w", projectsFile, err)
	}
	return repo, nil
}

// newEnv собирает зависимости конвейера. Возвращает функцию освобождения.
func newEnv(ctx context.Context, repo mapping.Repository) (*etl.Env, func(), error) {
	env := &etl.Env{
		Repository: repo,
		Logger:     log.Logger,
	}
	if idmapFile == "" {
		return env, func() {}, nil
	}

	engine, err := adapters.Default().OpenConfig(ctx, adapters.Config{
		Kind:     schema.KindSQLite,
		DSN:      idmapFile,
		Database: idmapFile,
	}, "idmap")
	if err != nil {
		return nil, nil, err
	}
	sqlEngine, ok := adapters.AsSQL(engine)
	if !ok {
		engine.Close()
		return nil, nil, fmt.Errorf("idmap store requires an SQL engine")
	}
	store, err := idmap.NewSQLStore(ctx, sqlEngine)
	if err != nil {
		engine.Close()
		return nil, nil, fmt.Errorf("idmap store: %w", err)
	}
	env.Store = store

	return env, func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close idmap store")
		}
	}, nil
}

// openConnection открывает движок подключения из файла проекта
func openConnection(ctx context.Context, repo mapping.Repository, id string) (adapters.Engine, error) {
	conn, err := repo.Connection(ctx, id)
	if err != nil {
		return nil, err
	}
	return adapters.Open(ctx, conn, adapters.EnvCredentials{})
}
