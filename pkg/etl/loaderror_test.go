package etl

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/retry"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want LoadErrorKind
	}{
		{"postgres unique", errors.New(`ERROR: duplicate key value violates unique constraint "countries_pkey"`), DuplicateRecord},
		{"sqlite unique", errors.New("UNIQUE constraint failed: countries.id"), DuplicateRecord},
		{"mongo duplicate", errors.New("E11000 duplicate key error collection"), DuplicateRecord},
		{"sqlite fk", errors.New("FOREIGN KEY constraint failed"), InvalidReference},
		{"mssql fk", errors.New("The INSERT statement conflicted with the FOREIGN KEY constraint"), InvalidReference},
		{"mysql null", errors.New("Error 1048: Column 'name' cannot be null"), MissingRequiredData},
		{"postgres null", errors.New(`null value in column "name" violates not-null constraint`), MissingRequiredData},
		{"permission", errors.New("permission denied for table orders"), PermissionDenied},
		{"mysql too long", errors.New("Error 1406: Data too long for column 'code'"), LimitExceeded},
		{"postgres syntax", errors.New(`invalid input syntax for type integer: "abc"`), InvalidFormat},
		{"lock timeout", errors.New("Lock wait timeout exceeded"), Timeout},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), Timeout},
		{"refused", errors.New("dial tcp: connection refused"), ConnectionFailed},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), ConnectionFailed},
		{"connection error", &adapters.ConnectionError{Engine: "postgres", Err: errors.New("x")}, ConnectionFailed},
		{"already classified", &LoadError{Kind: PermissionDenied, Err: errors.New("x")}, PermissionDenied},
		{"unknown", errors.New("something odd happened"), DatabaseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%q) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestAsLoadError(t *testing.T) {
	err := asLoadError("orders", errors.New("FOREIGN KEY constraint failed"))
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if le.Kind != InvalidReference || le.Table != "orders" {
		t.Errorf("unexpected load error: %+v", le)
	}

	if got := asLoadError("orders", ErrCancelled); got != ErrCancelled {
		t.Errorf("cancellation must pass through, got %v", got)
	}
	if asLoadError("orders", nil) != nil {
		t.Error("nil must stay nil")
	}
}

func TestRetryableMarksPermanentErrors(t *testing.T) {
	r, err := retry.NewRetryer(retry.Config{Attempts: 3, DelayMs: 1})
	if err != nil {
		t.Fatalf("NewRetryer: %v", err)
	}

	calls := 0
	r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return retryable(errors.New("UNIQUE constraint failed: countries.id"))
	})
	if calls != 1 {
		t.Errorf("duplicate record must not be retried, calls = %d", calls)
	}

	calls = 0
	r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return retryable(errors.New("connection reset by peer"))
	})
	if calls != 3 {
		t.Errorf("connection failure must be retried 3 times, calls = %d", calls)
	}
}
