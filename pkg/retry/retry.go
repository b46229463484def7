package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryableFunc - функция которую можно повторить
type RetryableFunc func(ctx context.Context) error

// permanent помечает ошибку, которую бессмысленно повторять
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent оборачивает ошибку так, что Retryer не будет повторять попытку
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// ExhaustedError возвращается после исчерпания всех попыток
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retryer - единственная реализация повторов: батчи загрузки и вложения
type Retryer struct {
	config Config
}

// NewRetryer создает новый Retryer
func NewRetryer(config Config) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	return &Retryer{config: config}, nil
}

// Attempts возвращает лимит попыток
func (r *Retryer) Attempts() int {
	return r.config.Attempts
}

// Do выполняет функцию, повторяя ее при ошибке
func (r *Retryer) Do(ctx context.Context, fn RetryableFunc) error {
	_, err := r.DoCount(ctx, fn)
	return err
}

// DoCount выполняет функцию и возвращает число сделанных попыток
func (r *Retryer) DoCount(ctx context.Context, fn RetryableFunc) (int, error) {
	delay := r.config.Delay()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}

		var p *permanent
		if errors.As(err, &p) {
			return attempt, p.err
		}
		if attempt >= r.config.Attempts {
			return attempt, &ExhaustedError{Attempts: attempt, Err: err}
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
		}
	}
}
