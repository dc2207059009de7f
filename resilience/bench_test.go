package resilience

import (
	"context"
	"testing"
	"time"
)

func BenchmarkExecutor_AllGuards(b *testing.B) {
	exec := NewExecutor(
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{Rate: 1e9, Burst: 1 << 20})),
		WithBulkhead(NewBulkhead(BulkheadConfig{MaxConcurrent: 64})),
		WithCircuitBreaker(NewCircuitBreaker(CircuitBreakerConfig{})),
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 1})),
	)
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		_ = exec.Execute(ctx, succeed)
	}
}

func BenchmarkTimeout_Execute(b *testing.B) {
	to := NewTimeout(time.Second)
	ctx := context.Background()
	for b.Loop() {
		_ = to.Execute(ctx, succeed)
	}
}

func BenchmarkCircuitBreaker_Parallel(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	ctx := context.Background()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = cb.Execute(ctx, succeed)
		}
	})
}
