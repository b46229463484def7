package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen - circuit breaker открыт, вызов отклонен без выполнения
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State - состояние Circuit Breaker
type State int

const (
	// StateClosed - нормальная работа, запросы проходят
	StateClosed State = iota

	// StateHalfOpen - пробные вызовы после таймаута
	StateHalfOpen

	// StateOpen - запросы отклоняются
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Counts - счетчики вызовов
type Counts struct {
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	Rejected             uint32
}

// Breaker отключает вызовы к зависимости после серии ошибок.
// Ошибка отмены контекста сбоем зависимости не считается.
type Breaker struct {
	config Config

	// OnStateChange вызывается под блокировкой: не должен обращаться к Breaker
	OnStateChange func(name string, from, to State)

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	now      func() time.Time
}

// New создает Breaker в состоянии Closed
func New(config Config) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	return &Breaker{config: config, now: time.Now}, nil
}

// Execute выполняет fn, если цепь не разомкнута
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.config.Timeout() {
			b.counts.Rejected++
			return fmt.Errorf("%s: %w", b.config.Name, ErrCircuitOpen)
		}
		b.setState(StateHalfOpen)
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		b.counts.ConsecutiveFailures = 0
		b.counts.ConsecutiveSuccesses++
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed)
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		b.counts.TotalFailures++
		b.counts.ConsecutiveSuccesses = 0
		b.counts.ConsecutiveFailures++
		if b.state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.config.MaxFailures {
			b.setState(StateOpen)
		}
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if to != StateOpen {
		b.counts.ConsecutiveFailures = 0
	}
	if to == StateHalfOpen {
		b.counts.ConsecutiveSuccesses = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(b.config.Name, from, to)
	}
}

// State возвращает текущее состояние
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts возвращает копию счетчиков
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Name возвращает имя из конфигурации
func (b *Breaker) Name() string {
	return b.config.Name
}
