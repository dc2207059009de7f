package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay by Multiplier per attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffConstant waits InitialDelay between every attempt.
	BackoffConstant
)

// RetryConfig configures a Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call. Default 3.
	MaxAttempts int
	// InitialDelay precedes the second attempt. Default 100ms.
	InitialDelay time.Duration
	// MaxDelay caps any single delay. Default 30s.
	MaxDelay time.Duration
	// Multiplier for exponential backoff. Default 2.
	Multiplier float64
	Strategy   BackoffStrategy
	// Jitter adds up to 25% random delay.
	Jitter bool
	// RetryIf reports whether err is worth another attempt. Default: any
	// non-nil error.
	RetryIf func(err error) bool
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry re-runs a failing operation with backoff.
type Retry struct {
	cfg RetryConfig
}

// NewRetry applies defaults to cfg.
func NewRetry(cfg RetryConfig) *Retry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = func(err error) bool { return err != nil }
	}
	return &Retry{cfg: cfg}
}

// Execute runs op until it succeeds, RetryIf declines, ctx ends or the
// attempts run out. Exhaustion wraps the last error with
// ErrMaxRetriesExceeded.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || !r.cfg.RetryIf(err) {
			return err
		}
		if attempt >= r.cfg.MaxAttempts {
			if r.cfg.MaxAttempts == 1 {
				return err
			}
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt, err)
		}
		delay := r.Delay(attempt)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt, err, delay)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (r *Retry) Delay(attempt int) time.Duration {
	d := r.cfg.InitialDelay
	if r.cfg.Strategy == BackoffExponential {
		d = time.Duration(float64(d) * math.Pow(r.cfg.Multiplier, float64(attempt-1)))
	}
	if d > r.cfg.MaxDelay || d < 0 {
		d = r.cfg.MaxDelay
	}
	if r.cfg.Jitter && d >= 4 {
		// #nosec G404 -- timing jitter, not security sensitive.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}
