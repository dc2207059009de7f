package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds a full round of checks.
const DefaultTimeout = 5 * time.Second

// Report is the combined outcome of every registered check.
type Report struct {
	Status  Status
	Checks  map[string]Result
	Elapsed time.Duration
}

// Aggregator runs registered checkers together.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewAggregator returns an aggregator whose rounds are bounded by timeout.
// A timeout <= 0 uses DefaultTimeout.
func NewAggregator(timeout ...time.Duration) *Aggregator {
	a := &Aggregator{timeout: DefaultTimeout, checkers: make(map[string]Checker)}
	if len(timeout) > 0 && timeout[0] > 0 {
		a.timeout = timeout[0]
	}
	return a
}

// Register adds c under c.Name(), replacing any checker of that name.
func (a *Aggregator) Register(c Checker) {
	a.mu.Lock()
	a.checkers[c.Name()] = c
	a.mu.Unlock()
}

// Names returns the registered checker names in sorted order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	names := make([]string, 0, len(a.checkers))
	for n := range a.checkers {
		names = append(names, n)
	}
	a.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Check runs the checker registered under name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	c, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, c), nil
}

// CheckAll runs every checker in parallel. A checker still running at the
// deadline is reported Unhealthy with ErrCheckTimeout. An aggregator with
// no checkers is Healthy.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	a.mu.RLock()
	checkers := make([]Checker, 0, len(a.checkers))
	for _, c := range a.checkers {
		checkers = append(checkers, c)
	}
	a.mu.RUnlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rep := Report{Checks: make(map[string]Result, len(checkers))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checkers {
		wg.Go(func() {
			r := run(ctx, c)
			mu.Lock()
			rep.Checks[c.Name()] = r
			mu.Unlock()
		})
	}
	wg.Wait()

	for _, r := range rep.Checks {
		rep.Status = rep.Status.Worse(r.Status)
	}
	rep.Elapsed = time.Since(start)
	return rep
}

// run calls c.Check and stops waiting when ctx is done. The checker's
// goroutine is left to finish on its own.
func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		r := c.Check(ctx)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		r.Duration = time.Since(start)
		done <- r
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}
