package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Appender - приёмник записей аудита
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
	Close() error
}

// MultiAppender пишет в несколько приёмников, ошибка одного не останавливает остальных.
type MultiAppender []Appender

func (m MultiAppender) Append(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, a := range m {
		if err := a.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiAppender) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileAppender - JSON lines с ротацией по размеру
type FileAppender struct {
	mu          sync.Mutex
	path        string
	level       Level
	maxSize     int64
	maxBackups  int
	file        *os.File
	currentSize int64
}

// FileAppenderConfig - параметры файлового приёмника
type FileAppenderConfig struct {
	Path       string `yaml:"path"`
	Level      Level  `yaml:"-"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func NewFileAppender(cfg FileAppenderConfig) (*FileAppender, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.Level == 0 {
		cfg.Level = LevelStandard
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileAppender{
		path:        cfg.Path,
		level:       cfg.Level,
		maxSize:     int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups:  cfg.MaxBackups,
		file:        f,
		currentSize: st.Size(),
	}, nil
}

func (fa *FileAppender) Append(_ context.Context, entry *Entry) error {
	data, err := entry.FilterByLevel(fa.level).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.file == nil {
		return fmt.Errorf("audit file %s is closed", fa.path)
	}
	if fa.currentSize+int64(len(data)) > fa.maxSize {
		if err := fa.rotate(); err != nil {
			return fmt.Errorf("rotate audit file: %w", err)
		}
	}
	n, err := fa.file.Write(data)
	fa.currentSize += int64(n)
	return err
}

// rotate сдвигает path.N -> path.N+1, самый старый удаляется.
func (fa *FileAppender) rotate() error {
	if err := fa.file.Close(); err != nil {
		return err
	}
	os.Remove(fmt.Sprintf("%s.%d", fa.path, fa.maxBackups))
	for i := fa.maxBackups - 1; i > 0; i-- {
		old := fmt.Sprintf("%s.%d", fa.path, i)
		if _, err := os.Stat(old); err == nil {
			os.Rename(old, fmt.Sprintf("%s.%d", fa.path, i+1))
		}
	}
	if err := os.Rename(fa.path, fa.path+".1"); err != nil {
		return err
	}

	f, err := os.OpenFile(fa.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fa.file = nil
		return err
	}
	fa.file = f
	fa.currentSize = 0
	return nil
}

func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.file == nil {
		return nil
	}
	err := fa.file.Close()
	fa.file = nil
	return err
}

// WriterAppender - человекочитаемый вывод (консоль, тесты)
type WriterAppender struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterAppender(w io.Writer) *WriterAppender {
	return &WriterAppender{w: w}
}

func (wa *WriterAppender) Append(_ context.Context, entry *Entry) error {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	_, err := fmt.Fprintln(wa.w, entry.String())
	return err
}

func (wa *WriterAppender) Close() error { return nil }

// LogAppender дублирует аудит в структурированный лог.
type LogAppender struct {
	Logger zerolog.Logger
}

func (la LogAppender) Append(_ context.Context, e *Entry) error {
	ev := la.Logger.Info()
	if e.Status == StatusFailure {
		ev = la.Logger.Warn()
	}
	ev.Str("audit_id", e.ID).
		Str("execution_id", e.ExecutionID).
		Str("operation", string(e.Operation)).
		Str("status", string(e.Status)).
		Str("table", e.Table).
		Int64("records", e.RecordsAffected).
		Int64("failed", e.RecordsFailed).
		Dur("duration", e.Duration)
	if e.ErrorMessage != "" {
		ev = ev.Str("error", e.ErrorMessage)
	}
	ev.Msg("audit")
	return nil
}

func (la LogAppender) Close() error { return nil }
