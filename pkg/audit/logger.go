package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger - журнал операций миграции
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Flush(ctx context.Context) error
	Close() error
}

type flusher interface {
	Flush(ctx context.Context) error
}

// Config - параметры журнала
type Config struct {
	// Async - запись в appenders из отдельной горутины
	Async bool `yaml:"async"`

	// BufferSize - ёмкость очереди асинхронного режима
	BufferSize int `yaml:"buffer_size"`

	// DefaultUser подставляется в записи без пользователя
	DefaultUser string `yaml:"-"`

	// OnError получает ошибки appenders, которые нельзя вернуть вызывающему
	OnError func(error) `yaml:"-"`
}

// AuditLogger рассылает записи по appenders
type AuditLogger struct {
	cfg       Config
	appenders []Appender
	queue     chan *Entry
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewLogger(cfg Config, appenders ...Appender) *AuditLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	l := &AuditLogger{cfg: cfg, appenders: appenders, done: make(chan struct{})}
	if cfg.Async {
		l.queue = make(chan *Entry, cfg.BufferSize)
		l.wg.Add(1)
		go l.run()
	}
	return l
}

func (l *AuditLogger) Log(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry is nil")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.User == "" {
		entry.User = l.cfg.DefaultUser
	}

	if !l.cfg.Async {
		return l.write(ctx, entry)
	}
	select {
	case <-l.done:
		return fmt.Errorf("audit logger is closed")
	default:
	}
	select {
	case l.queue <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// очередь полна
		return l.write(ctx, entry)
	}
}

func (l *AuditLogger) write(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, a := range l.appenders {
		if err := a.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *AuditLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.report(l.write(context.Background(), e))
		case <-l.done:
			for {
				select {
				case e := <-l.queue:
					l.report(l.write(context.Background(), e))
				default:
					return
				}
			}
		}
	}
}

func (l *AuditLogger) report(err error) {
	if err != nil && l.cfg.OnError != nil {
		l.cfg.OnError(err)
	}
}

// Flush сбрасывает буферизующие appenders. В асинхронном режиме
// записи, ещё стоящие в очереди, могут не попасть в этот flush.
func (l *AuditLogger) Flush(ctx context.Context) error {
	var errs []error
	for _, a := range l.appenders {
		if f, ok := a.(flusher); ok {
			if err := f.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close дожидается разбора очереди и закрывает appenders
func (l *AuditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = errors.Join(l.Flush(context.Background()), MultiAppender(l.appenders).Close())
	})
	return err
}

// NullLogger ничего не записывает
type NullLogger struct{}

func (NullLogger) Log(context.Context, *Entry) error { return nil }
func (NullLogger) Flush(context.Context) error       { return nil }
func (NullLogger) Close() error                      { return nil }
