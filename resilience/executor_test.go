package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_Empty(t *testing.T) {
	if err := NewExecutor().Execute(context.Background(), fail); !errors.Is(err, errEmbed) {
		t.Errorf("err = %v", err)
	}
}

func TestExecutor_RetryInsideBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2})
	var calls int
	exec := NewExecutor(
		WithTimeout(time.Second),
		WithCircuitBreaker(cb),
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})),
	)
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return errEmbed
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if cb.Failures() != 1 {
		t.Errorf("breaker failures = %d; a retried call counts once", cb.Failures())
	}
}

func TestExecutor_TimeoutPerAttempt(t *testing.T) {
	var calls int
	exec := NewExecutor(
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})),
		WithTimeout(10*time.Millisecond),
	)
	err := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want one per attempt", calls)
	}
}

func TestExecutor_OpenBreakerSkipsBulkheadWork(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	exec := NewExecutor(WithBulkhead(b), WithCircuitBreaker(cb))
	_ = exec.Execute(context.Background(), fail)

	if err := exec.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if b.Active() != 0 {
		t.Error("bulkhead slot leaked")
	}
}

func TestExecutor_RateLimiterOutermost(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1})
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	exec := NewExecutor(WithCircuitBreaker(cb), WithRateLimiter(rl))
	_ = exec.Execute(context.Background(), succeed)
	if err := exec.Execute(context.Background(), fail); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want ErrRateLimitExceeded", err)
	}
	if cb.State() != StateClosed {
		t.Error("a rate-limited call must not reach the breaker")
	}
}
