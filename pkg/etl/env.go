package etl

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/attachments"
	"github.com/ruslano69/tdtp-migrator/pkg/audit"
	"github.com/ruslano69/tdtp-migrator/pkg/idmap"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

// StatusPublisher получает снимок выполнения при каждом изменении
type StatusPublisher interface {
	Publish(ctx context.Context, executionID string, state any) error
}

// Env - зависимости конвейера. Передается контроллеру явно,
// глобальных подключений нет.
type Env struct {
	// Factory открывает движки; nil - реестр по умолчанию
	Factory *adapters.Factory

	// Credentials разрешает CredentialsRef подключений; nil - переменные окружения
	Credentials adapters.CredentialsResolver

	// Repository - проекты миграции (только чтение)
	Repository mapping.Repository

	// Store - хранилище ID mapping; nil - в памяти процесса
	Store idmap.Store

	// Objects - хранилище вложений; nil - по attachments.store конфигурации
	Objects attachments.ObjectStore

	// Publisher - публикация состояния выполнения (Redis и т.п.)
	Publisher StatusPublisher

	// Sinks - приемники отчета в дополнение к report.* конфигурации
	Sinks []ReportSink

	Audit  audit.Logger
	Logger zerolog.Logger

	// Matrix - матрица совместимости типов; nil - стандартная
	Matrix *transform.Matrix
}

func (e *Env) withDefaults() *Env {
	c := *e
	if c.Factory == nil {
		c.Factory = adapters.Default()
	}
	if c.Credentials == nil {
		c.Credentials = adapters.EnvCredentials{}
	}
	if c.Store == nil {
		c.Store = idmap.NewMemoryStore()
	}
	if c.Audit == nil {
		c.Audit = audit.NullLogger{}
	}
	if c.Matrix == nil {
		c.Matrix = transform.DefaultMatrix()
	}
	return &c
}
