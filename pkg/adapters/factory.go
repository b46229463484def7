package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// OpenFunc - конструктор движка. Возвращает подключенный движок.
type OpenFunc func(ctx context.Context, cfg Config) (Engine, error)

// DSNFunc строит строку подключения из описания и учетных данных
type DSNFunc func(conn Connection, creds Credentials) string

// Driver - регистрационная запись движка
type Driver struct {
	Open OpenFunc
	DSN  DSNFunc
}

// Factory - реестр движков
type Factory struct {
	registry map[schema.EngineKind]Driver
	mu       sync.RWMutex
}

// NewFactory создает пустую фабрику
func NewFactory() *Factory {
	return &Factory{
		registry: make(map[schema.EngineKind]Driver),
	}
}

// Register регистрирует драйвер для семейства движков
func (f *Factory) Register(kind schema.EngineKind, d Driver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[kind] = d
}

// IsRegistered проверяет, зарегистрирован ли движок
func (f *Factory) IsRegistered(kind schema.EngineKind) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.registry[kind]
	return ok
}

// Kinds возвращает отсортированный список зарегистрированных движков
func (f *Factory) Kinds() []schema.EngineKind {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]schema.EngineKind, 0, len(f.registry))
	for k := range f.registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Resolve превращает Connection в Config: разрешает учетные данные и строит DSN
func (f *Factory) Resolve(ctx context.Context, conn Connection, creds CredentialsResolver) (Config, error) {
	if err := conn.Validate(); err != nil {
		return Config{}, err
	}
	kind, _ := schema.ParseEngineKind(string(conn.Engine))

	f.mu.RLock()
	d, ok := f.registry[kind]
	f.mu.RUnlock()
	if !ok {
		return Config{}, fmt.Errorf("unknown engine: %s (available: %v)", kind, f.Kinds())
	}

	cfg := Config{
		Kind:     kind,
		DSN:      conn.DSN,
		Database: conn.Database,
		Schema:   conn.Schema,
		Options:  conn.Options,
	}
	if cfg.DSN != "" {
		return cfg, nil
	}

	var c Credentials
	if conn.CredentialsRef != "" {
		if creds == nil {
			return Config{}, fmt.Errorf("connection %q references credentials but no resolver is configured", conn.ID)
		}
		var err error
		if c, err = creds.Resolve(ctx, conn.CredentialsRef); err != nil {
			return Config{}, err
		}
	}
	cfg.DSN = d.DSN(conn, c)
	return cfg, nil
}

// OpenConfig открывает движок по уже разрешенной конфигурации и проверяет связь
func (f *Factory) OpenConfig(ctx context.Context, cfg Config, name string) (Engine, error) {
	f.mu.RLock()
	d, ok := f.registry[cfg.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine: %s (available: %v)", cfg.Kind, f.Kinds())
	}

	engine, err := d.Open(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Engine: cfg.Kind, Connection: name, Err: err}
	}
	if err := engine.Ping(ctx); err != nil {
		engine.Close()
		return nil, &ConnectionError{Engine: cfg.Kind, Connection: name, Err: err}
	}
	return engine, nil
}

// Open разрешает подключение и открывает движок
func (f *Factory) Open(ctx context.Context, conn Connection, creds CredentialsResolver) (Engine, error) {
	cfg, err := f.Resolve(ctx, conn, creds)
	if err != nil {
		return nil, &ConnectionError{Engine: conn.Engine, Connection: conn.ID, Err: err}
	}
	return f.OpenConfig(ctx, cfg, conn.ID)
}

// ========== Глобальная фабрика ==========

var globalFactory = NewFactory()

// Register регистрирует драйвер в глобальной фабрике.
// Вызывается из init() пакетов движков.
func Register(kind schema.EngineKind, d Driver) {
	globalFactory.Register(kind, d)
}

// Default возвращает глобальную фабрику
func Default() *Factory {
	return globalFactory
}

// Open открывает движок через глобальную фабрику
func Open(ctx context.Context, conn Connection, creds CredentialsResolver) (Engine, error) {
	return globalFactory.Open(ctx, conn, creds)
}
