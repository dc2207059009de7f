package resilience

import (
	"context"
	"errors"
	"time"
)

// Timeout bounds one attempt. The operation keeps running after the
// deadline if it ignores ctx; its result is then discarded.
type Timeout struct {
	d time.Duration
}

// NewTimeout returns a Timeout of d, or 30s when d is not positive.
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = 30 * time.Second
	}
	return &Timeout{d: d}
}

// Duration returns the configured bound.
func (t *Timeout) Duration() time.Duration { return t.d }

// Execute runs op with a deadline and maps expiry to ErrTimeout.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
