// Package resilience guards calls to slow or flaky dependencies, chiefly
// the embedding service behind semantic lookups.
//
// Each guard works on its own through Execute, and an Executor composes
// them. From the outside in an Executor applies the rate limiter, the
// bulkhead, the circuit breaker, retry and finally the per-attempt
// timeout:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 8})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 5})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    vecs, err = embedder.Embed(ctx, texts)
//	    return err
//	})
package resilience
