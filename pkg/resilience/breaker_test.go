package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errStore = errors.New("bucket unavailable")

func newTestBreaker(t *testing.T, maxFailures uint32) (*Breaker, *time.Time) {
	t.Helper()
	b, err := New(Config{Name: "store", MaxFailures: maxFailures, OpenTimeoutMs: 1000, SuccessThreshold: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(context.Context) error { return errStore }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errStore) {
			t.Fatalf("call %d: expected store error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker must reject without calling: err=%v called=%v", err, called)
	}
	if b.Counts().Rejected != 1 {
		t.Errorf("rejected = %d", b.Counts().Rejected)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(t, 3)
	ctx := context.Background()

	b.Execute(ctx, fail)
	b.Execute(ctx, fail)
	b.Execute(ctx, ok)
	b.Execute(ctx, fail)
	b.Execute(ctx, fail)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t, 1)
	ctx := context.Background()

	var transitions []State
	b.OnStateChange = func(_ string, _, to State) { transitions = append(transitions, to) }

	b.Execute(ctx, fail)
	*now = now.Add(999 * time.Millisecond)
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before timeout, got %v", err)
	}

	*now = now.Add(time.Millisecond)
	if err := b.Execute(ctx, ok); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after one success", b.State())
	}
	b.Execute(ctx, ok)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, 2)
	ctx := context.Background()

	b.Execute(ctx, fail)
	b.Execute(ctx, fail)
	*now = now.Add(2 * time.Second)

	b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}
}

func TestBreaker_CancellationIsNotFailure(t *testing.T) {
	b, _ := newTestBreaker(t, 1)
	b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", DefaultConfig("s3"), false},
		{"zero failures", Config{OpenTimeoutMs: 10}, true},
		{"zero timeout", Config{MaxFailures: 1}, true},
		{"fills defaults", Config{MaxFailures: 1, OpenTimeoutMs: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.config
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (c.SuccessThreshold == 0 || c.Name == "") {
				t.Errorf("defaults not filled: %+v", c)
			}
		})
	}
}
