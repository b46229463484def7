package adapters

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// Role - роль подключения в миграции
type Role string

const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

// Connection - описание подключения, которое мигратор получает извне.
// Для движка запись только читается.
type Connection struct {
	ID             string            `yaml:"id" json:"id"`
	Engine         schema.EngineKind `yaml:"engine" json:"engine"`
	Host           string            `yaml:"host" json:"host,omitempty"`
	Port           int               `yaml:"port" json:"port,omitempty"`
	Database       string            `yaml:"database" json:"database"`
	Schema         string            `yaml:"schema,omitempty" json:"schema,omitempty"`
	CredentialsRef string            `yaml:"credentials_ref,omitempty" json:"credentialsRef,omitempty"`
	Role           Role              `yaml:"role" json:"role"`

	// DSN - готовая строка подключения, имеет приоритет над Host/Port/Database
	DSN string `yaml:"dsn,omitempty" json:"-"`

	// Options - параметры, специфичные для драйвера (sslmode, authSource...)
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// Validate проверяет обязательные поля
func (c Connection) Validate() error {
	if _, err := schema.ParseEngineKind(string(c.Engine)); err != nil {
		return fmt.Errorf("connection %q: %w", c.ID, err)
	}
	if c.DSN == "" && c.Database == "" {
		return fmt.Errorf("connection %q: database or dsn is required", c.ID)
	}
	if c.Role != "" && c.Role != RoleSource && c.Role != RoleTarget {
		return fmt.Errorf("connection %q: invalid role %q", c.ID, c.Role)
	}
	return nil
}

// Credentials - учетные данные, разрешенные по CredentialsRef
type Credentials struct {
	User     string
	Password string
}

// CredentialsResolver разрешает ссылку на учетные данные.
// Хранение секретов вне зоны ответственности мигратора.
type CredentialsResolver interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// EnvCredentials читает учетные данные из переменных окружения
// <Prefix><REF>_USER и <Prefix><REF>_PASSWORD
type EnvCredentials struct {
	Prefix string
}

// Resolve реализует CredentialsResolver
func (e EnvCredentials) Resolve(_ context.Context, ref string) (Credentials, error) {
	prefix := e.Prefix
	if prefix == "" {
		prefix = "TDTP_CRED_"
	}
	key := prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))

	user, ok := os.LookupEnv(key + "_USER")
	if !ok {
		return Credentials{}, fmt.Errorf("credentials %q not found (%s_USER is not set)", ref, key)
	}
	return Credentials{User: user, Password: os.Getenv(key + "_PASSWORD")}, nil
}

// StaticCredentials - учетные данные из памяти (для тестов и встраивания)
type StaticCredentials map[string]Credentials

// Resolve реализует CredentialsResolver
func (s StaticCredentials) Resolve(_ context.Context, ref string) (Credentials, error) {
	c, ok := s[ref]
	if !ok {
		return Credentials{}, fmt.Errorf("credentials %q not found", ref)
	}
	return c, nil
}

// Config - разрешенная конфигурация, которую получает конструктор движка
type Config struct {
	Kind     schema.EngineKind
	DSN      string
	Database string
	Schema   string

	// MaxConns - максимальное количество подключений в пуле
	MaxConns int

	Options map[string]string
}
