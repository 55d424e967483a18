// Package resilience wraps upstream calls with bounded retry and per-key
// circuit breaking.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryConfig holds the retry knobs exposed through configuration.
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         float64
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		AttemptTimeout: 60 * time.Second,
	}
}

// RetryError is returned when an operation did not succeed. Err is the last
// error seen; Attempts counts every call made, including the first.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	if e.Attempts == 1 {
		return fmt.Sprintf("failed after 1 attempt: %v", e.Err)
	}
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Policy runs an operation with exponential backoff plus jitter. Only
// transient errors are retried.
type Policy struct {
	cfg    RetryConfig
	logger zerolog.Logger
}

// NewPolicy builds a policy; zero fields fall back to the defaults.
func NewPolicy(cfg RetryConfig, logger zerolog.Logger) *Policy {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	return &Policy{cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (p *Policy) Config() RetryConfig { return p.cfg }

func (p *Policy) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.cfg.BaseDelay
	expo.MaxInterval = p.cfg.MaxDelay
	expo.Multiplier = p.cfg.Multiplier
	expo.RandomizationFactor = p.cfg.Jitter
	// attempts, not elapsed time, bound the loop
	expo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.cfg.MaxAttempts-1)), ctx)
}

// Execute calls op until it succeeds, returns a permanent error, or the
// attempt budget is spent. Each call gets its own AttemptTimeout deadline.
// On failure the returned error is a *RetryError.
func (p *Policy) Execute(ctx context.Context, name string, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		err := p.attempt(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempts).
			Int("max_attempts", p.cfg.MaxAttempts).
			Dur("backoff", wait).
			Msg("retrying after transient error")
	}

	err := backoff.RetryNotify(operation, p.newBackOff(ctx), notify)
	if err == nil {
		return attempts, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return attempts, &RetryError{Attempts: attempts, Err: lastErr}
}

func (p *Policy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.cfg.AttemptTimeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()
	return op(actx)
}

type temporary interface {
	Temporary() bool
}

// retryable reports whether err is worth another attempt. The caller's own
// cancellation or deadline is never retried; a per-attempt timeout is.
func (p *Policy) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return IsRetryable(err)
}

// IsRetryable reports whether err classifies as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
