package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Rate is calls per second. Default 100.
	Rate float64
	// Burst is the bucket size. Default 10.
	Burst int
	// WaitOnLimit waits for a token instead of failing fast.
	WaitOnLimit bool
	// MaxWait bounds the wait when WaitOnLimit is set. Default 1s.
	MaxWait time.Duration
}

// RateLimiter is a token bucket in front of a dependency.
type RateLimiter struct {
	cfg RateLimiterConfig
	lim *rate.Limiter
}

// NewRateLimiter returns a limiter with a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	return &RateLimiter{cfg: cfg, lim: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool { return rl.lim.Allow() }

// Wait blocks for a token for at most MaxWait.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	r := rl.lim.Reserve()
	delay := r.Delay()
	if delay > rl.cfg.MaxWait {
		r.Cancel()
		return ErrRateLimitExceeded
	}
	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs op when a token is available.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.cfg.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Tokens returns the tokens currently in the bucket.
func (rl *RateLimiter) Tokens() float64 { return rl.lim.Tokens() }
