package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is matched by every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError is returned without calling upstream when a key's breaker
// is open, or when its single half-open trial is already in flight.
type CircuitOpenError struct {
	Key      string
	RetryAt  time.Time
	HalfOpen bool
}

func (e *CircuitOpenError) Error() string {
	if e.HalfOpen {
		return fmt.Sprintf("%s is temporarily disabled: recovery probe in progress", e.Key)
	}
	return fmt.Sprintf("%s is temporarily disabled after repeated failures", e.Key)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Status of one breaker.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half-open"
)

func statusOf(s gobreaker.State) Status {
	switch s {
	case gobreaker.StateOpen:
		return StatusOpen
	case gobreaker.StateHalfOpen:
		return StatusHalfOpen
	default:
		return StatusClosed
	}
}

// BreakerState is a point-in-time view of one key's breaker.
type BreakerState struct {
	Key                 string    `json:"key"`
	Status              Status    `json:"status"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// BreakerConfig defines circuit breaker behavior
type BreakerConfig struct {
	Threshold uint32        // consecutive failures before opening
	Cooldown  time.Duration // how long to stay open before the half-open trial
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// Breakers owns one independent circuit breaker per key. Keys are created
// lazily on first use.
type Breakers struct {
	cfg    BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	// openedAt and tripped are written from gobreaker's hooks, which run
	// under the breaker's own lock, so they have a separate mutex.
	// gobreaker zeroes its counts on every state change; tripped keeps the
	// failure run that opened the breaker.
	openedMu sync.Mutex
	openedAt map[string]time.Time
	tripped  map[string]uint32
}

// BreakerOption configures Breakers.
type BreakerOption func(*Breakers)

// WithBreakerClock replaces time.Now for opened-at and retry-at stamps.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breakers) { b.now = now }
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig, logger zerolog.Logger, opts ...BreakerOption) *Breakers {
	def := DefaultBreakerConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	b := &Breakers{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		openedAt: make(map[string]time.Time),
		tripped:  make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breakers) get(key string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[key]; ok {
		return cb
	}
	threshold := b.cfg.Threshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     b.cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures < threshold {
				return false
			}
			b.openedMu.Lock()
			b.tripped[key] = c.ConsecutiveFailures
			b.openedMu.Unlock()
			return true
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: b.onStateChange,
	})
	b.breakers[key] = cb
	return cb
}

func (b *Breakers) onStateChange(key string, from, to gobreaker.State) {
	b.openedMu.Lock()
	switch to {
	case gobreaker.StateOpen:
		b.openedAt[key] = b.now()
		if from == gobreaker.StateHalfOpen {
			b.tripped[key]++
		}
	case gobreaker.StateClosed:
		delete(b.openedAt, key)
		delete(b.tripped, key)
	}
	b.openedMu.Unlock()

	ev := b.logger.Info()
	if to == gobreaker.StateOpen {
		ev = b.logger.Warn()
	}
	ev.Str("key", key).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state changed")
}

// Execute runs fn under key's breaker. When the breaker rejects the call fn
// is not invoked and a *CircuitOpenError is returned.
func (b *Breakers) Execute(key string, fn func() error) error {
	cb := b.get(key)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return &CircuitOpenError{Key: key, RetryAt: b.retryAt(key)}
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return &CircuitOpenError{Key: key, HalfOpen: true}
	}
	return err
}

func (b *Breakers) retryAt(key string) time.Time {
	b.openedMu.Lock()
	defer b.openedMu.Unlock()
	if t, ok := b.openedAt[key]; ok {
		return t.Add(b.cfg.Cooldown)
	}
	return time.Time{}
}

// State returns the current state of key's breaker; unknown keys are closed.
func (b *Breakers) State(key string) BreakerState {
	b.mu.Lock()
	cb, ok := b.breakers[key]
	b.mu.Unlock()
	if !ok {
		return BreakerState{Key: key, Status: StatusClosed}
	}
	return b.stateOf(key, cb)
}

func (b *Breakers) stateOf(key string, cb *gobreaker.CircuitBreaker) BreakerState {
	st := BreakerState{
		Key:                 key,
		Status:              statusOf(cb.State()),
		ConsecutiveFailures: cb.Counts().ConsecutiveFailures,
	}
	if st.Status != StatusClosed {
		b.openedMu.Lock()
		st.OpenedAt = b.openedAt[key]
		st.ConsecutiveFailures = b.tripped[key]
		b.openedMu.Unlock()
	}
	return st
}

// States returns every known breaker sorted by key.
func (b *Breakers) States() []BreakerState {
	b.mu.Lock()
	snapshot := make(map[string]*gobreaker.CircuitBreaker, len(b.breakers))
	for k, cb := range b.breakers {
		snapshot[k] = cb
	}
	b.mu.Unlock()

	out := make([]BreakerState, 0, len(snapshot))
	for k, cb := range snapshot {
		out = append(out, b.stateOf(k, cb))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset drops every breaker; used on teardown and by tests.
func (b *Breakers) Reset() {
	b.mu.Lock()
	b.breakers = make(map[string]*gobreaker.CircuitBreaker)
	b.mu.Unlock()

	b.openedMu.Lock()
	b.openedAt = make(map[string]time.Time)
	b.tripped = make(map[string]uint32)
	b.openedMu.Unlock()
}
