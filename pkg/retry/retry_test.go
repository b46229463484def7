package retry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestRetryer_SuccessFirstAttempt(t *testing.T) {
	r, err := NewRetryer(Config{Attempts: 3, DelayMs: 1})
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	n, err := r.DoCount(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil || n != 1 {
		t.Errorf("Expected 1 attempt without error, got %d, %v", n, err)
	}
}

func TestRetryer_FixedAttempts(t *testing.T) {
	var delays []time.Duration
	r, err := NewRetryer(Config{
		Attempts: 3,
		DelayMs:  5,
		OnRetry:  func(_ int, _ error, d time.Duration) { delays = append(delays, d) },
	})
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	boom := errors.New("persistent error")
	calls := 0
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Fatalf("Expected ExhaustedError after 3 attempts, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("ExhaustedError must wrap the last error")
	}
	for _, d := range delays {
		if d != 5*time.Millisecond {
			t.Errorf("Expected constant delay 5ms, got %v", d)
		}
	}
	if len(delays) != 2 {
		t.Errorf("Expected 2 retries, got %d", len(delays))
	}
}

func TestRetryer_SuccessAfterRetries(t *testing.T) {
	r, _ := NewRetryer(Config{Attempts: 5, DelayMs: 1})

	calls := 0
	n, err := r.DoCount(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})
	if err != nil || n != 3 {
		t.Errorf("Expected success on 3rd attempt, got %d, %v", n, err)
	}
}

func TestRetryer_Permanent(t *testing.T) {
	r, _ := NewRetryer(Config{Attempts: 5})

	calls := 0
	boom := errors.New("duplicate key")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(boom)
	})
	if calls != 1 {
		t.Errorf("Permanent error must not be retried, got %d calls", calls)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestRetryer_ContextCancelled(t *testing.T) {
	r, _ := NewRetryer(Config{Attempts: 10, DelayMs: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero attempts", Config{Attempts: 0}, true},
		{"negative delay", Config{Attempts: 1, DelayMs: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDLQ_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.json")

	d, err := NewDLQ(path, 2)
	if err != nil {
		t.Fatalf("NewDLQ: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := d.Add(DLQEntry{Unit: "orders", Attempts: 3, LastError: "boom"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if d.Size() != 2 {
		t.Errorf("Expected size capped at 2, got %d", d.Size())
	}

	reloaded, err := NewDLQ(path, 2)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Size() != 2 {
		t.Errorf("Expected 2 entries after reload, got %d", reloaded.Size())
	}
}
