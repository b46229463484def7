package adapters

import (
	"fmt"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// ConnectionError - источник или приемник недоступен. Фатальна для стадии.
type ConnectionError struct {
	Engine     schema.EngineKind
	Connection string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s (%s) failed: %v", e.Connection, e.Engine, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SchemaDiscoveryError - не удалось прочитать метаданные каталога.
// Отличается от пустой схемы, которая ошибкой не является.
type SchemaDiscoveryError struct {
	Engine   schema.EngineKind
	Database string
	Table    string
	Err      error
}

func (e *SchemaDiscoveryError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("schema discovery failed for %s table %s.%s: %v", e.Engine, e.Database, e.Table, e.Err)
	}
	return fmt.Sprintf("schema discovery failed for %s database %s: %v", e.Engine, e.Database, e.Err)
}

func (e *SchemaDiscoveryError) Unwrap() error { return e.Err }
