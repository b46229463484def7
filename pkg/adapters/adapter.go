package adapters

import (
	"context"
	"database/sql"
	"io"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// TableRef - ссылка на таблицу с необязательной схемой
type TableRef struct {
	Schema string
	Name   string
}

func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// Batch - порция строк в порядке Columns
type Batch struct {
	Columns []string
	Rows    [][]any
}

// Len возвращает количество строк в batch
func (b Batch) Len() int {
	return len(b.Rows)
}

// ExtractRequest - параметры потокового чтения таблицы
type ExtractRequest struct {
	Table TableRef

	// Columns - список колонок, nil = все колонки таблицы
	Columns []string

	// BatchSize - максимальный размер одной порции
	BatchSize int
}

// BatchFunc обрабатывает очередную порцию. Чтение источника приостановлено,
// пока функция не вернет управление. Ошибка прерывает чтение.
type BatchFunc func(ctx context.Context, batch Batch) error

// Engine - capability-интерфейс движка.
// Реализуется один раз на каждое семейство СУБД.
type Engine interface {
	// Kind возвращает семейство движка
	Kind() schema.EngineKind

	// Ping проверяет доступность
	Ping(ctx context.Context) error

	// Close освобождает подключение или пул
	Close() error

	// DiscoverSchema возвращает нормализованную схему базы.
	// Пустая база возвращает пустую схему без ошибки.
	DiscoverSchema(ctx context.Context) (*schema.Database, error)

	// ExtractBatches читает таблицу порциями не больше req.BatchSize
	ExtractBatches(ctx context.Context, req ExtractRequest, fn BatchFunc) error

	// LoadBatch вставляет порцию строк атомарно, возвращает число вставленных строк
	LoadBatch(ctx context.Context, table TableRef, batch Batch) (int64, error)

	// RowCount возвращает количество строк в таблице
	RowCount(ctx context.Context, table TableRef) (int64, error)
}

// SQLEngine - движок с SQL-доступом.
// Staging и push-down трансформации работают только через него.
type SQLEngine interface {
	Engine

	// Dialect возвращает SQL-диалект движка
	Dialect() Dialect

	// DB возвращает database/sql handle для транзакций стадий
	DB() *sql.DB

	// DefaultSchema - схема, в которой живут таблицы без явной схемы
	DefaultSchema() string
}

// AttachmentRef - вложение документа в хранилище-источнике
type AttachmentRef struct {
	Table       string
	DocumentID  string
	Name        string
	ContentType string
	Size        int64

	// SourceURL - логический адрес вложения в источнике
	SourceURL string
}

// AttachmentSource реализуется документными движками, у которых есть вложения
type AttachmentSource interface {
	ListAttachments(ctx context.Context, table string) ([]AttachmentRef, error)
	OpenAttachment(ctx context.Context, ref AttachmentRef) (io.ReadCloser, error)
}

// Truncater - движок без SQL, который умеет очистить коллекцию целиком.
// SQL-движки очищают таблицы через DELETE внутри транзакции загрузки.
type Truncater interface {
	Truncate(ctx context.Context, table TableRef) error
}

// AsSQL возвращает SQLEngine, если движок поддерживает SQL
func AsSQL(e Engine) (SQLEngine, bool) {
	s, ok := e.(SQLEngine)
	return s, ok
}
