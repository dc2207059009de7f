package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sightserver/querycache/resilience"
)

func ExampleExecutor() {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	exec := resilience.NewExecutor(
		resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 4})),
		resilience.WithCircuitBreaker(breaker),
		resilience.WithTimeout(time.Second),
	)

	embed := func(context.Context) error { return errors.New("connection refused") }
	for i := 0; i < 3; i++ {
		err := exec.Execute(context.Background(), embed)
		fmt.Println(errors.Is(err, resilience.ErrCircuitOpen), breaker.State())
	}
	// Output:
	// false closed
	// false open
	// true open
}

func ExampleRetry() {
	attempts := 0
	r := resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("503")
		}
		return nil
	})
	fmt.Println(attempts, err)
	// Output:
	// 2 <nil>
}
