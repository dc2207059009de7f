package resilience

import (
	"context"
	"time"
)

// guard is anything with the Execute shape.
type guard interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Executor chains guards in a fixed order regardless of option order:
// rate limiter, bulkhead, circuit breaker, retry, timeout.
type Executor struct {
	limiter  *RateLimiter
	bulkhead *Bulkhead
	breaker  *CircuitBreaker
	retry    *Retry
	timeout  *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor builds an Executor from opts.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRateLimiter adds the outermost guard.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.limiter = rl }
}

// WithBulkhead caps concurrency.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithCircuitBreaker adds a breaker. Retries count as one call.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.breaker = cb }
}

// WithRetry retries inside the breaker.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithTimeout bounds each attempt by d.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = NewTimeout(d) }
}

// Execute runs op through the configured guards.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	chain := op
	for _, g := range e.guards() {
		inner := chain
		chain = func(ctx context.Context) error { return g.Execute(ctx, inner) }
	}
	return chain(ctx)
}

// guards lists the configured guards innermost first.
func (e *Executor) guards() []guard {
	gs := make([]guard, 0, 5)
	if e.timeout != nil {
		gs = append(gs, e.timeout)
	}
	if e.retry != nil {
		gs = append(gs, e.retry)
	}
	if e.breaker != nil {
		gs = append(gs, e.breaker)
	}
	if e.bulkhead != nil {
		gs = append(gs, e.bulkhead)
	}
	if e.limiter != nil {
		gs = append(gs, e.limiter)
	}
	return gs
}
