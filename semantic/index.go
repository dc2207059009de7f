package semantic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/resilience"
)

// DefaultThreshold is the minimum cosine similarity for a semantic hit.
const DefaultThreshold = 0.92

// Config configures an Index.
type Config struct {
	// Threshold is the default minimum similarity. Default: 0.92
	Threshold float64

	// Timeout bounds each embedding call. An embedding shared by concurrent
	// callers runs detached from any one caller's cancellation and is
	// bounded by three times Timeout: slot wait, rate wait and the call.
	// Default: 5s
	Timeout time.Duration

	// InitTimeout bounds the startup probe including retries. Default: 30s
	InitTimeout time.Duration

	// InitAttempts is the number of probe attempts. Default: 3
	InitAttempts int

	// MaxConcurrent caps in-flight embedding calls. Default: 8
	MaxConcurrent int

	// RateLimit caps embedding calls per second. Zero means unlimited.
	RateLimit float64

	// BreakerFailures opens the circuit after this many consecutive
	// failures. Default: 5
	BreakerFailures int

	// BreakerReset is how long the circuit stays open. Default: 30s
	BreakerReset time.Duration

	// BatchSize is the number of texts per embedding call during Rebuild.
	// Default: 32
	BatchSize int

	// RebuildConcurrency caps parallel batches during Rebuild. Default: 4
	RebuildConcurrency int

	Logger observe.Logger

	// OnEmbed is called after every embedding call with its duration and
	// outcome.
	OnEmbed func(ctx context.Context, d time.Duration, texts int, err error)
}

// DefaultConfig returns the default index configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = 3
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.RebuildConcurrency <= 0 {
		c.RebuildConcurrency = 4
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	return c
}

// Record is one indexed query.
type Record struct {
	Key       string    `json:"key"`
	QueryText string    `json:"query_text"`
	Scope     string    `json:"scope"`
	Vector    []float32 `json:"vector"`
}

// Item is a query to embed and index.
type Item struct {
	Key       string
	QueryText string
	Scope     string
}

// Match is a nearest-neighbour result.
type Match struct {
	Key        string  `json:"key"`
	QueryText  string  `json:"query_text"`
	Similarity float64 `json:"similarity"`
}

// Index is an in-memory vector index over cached queries.
type Index struct {
	embedder Embedder
	cfg      Config
	exec     *resilience.Executor
	breaker  *resilience.CircuitBreaker
	flight   singleflight.Group

	mu      sync.RWMutex
	records map[string]*Record
	dim     int
}

// New probes the embedder and returns an empty index. If the embedder
// cannot embed a probe text within cfg.InitTimeout, New returns an error
// wrapping ErrEmbeddingUnavailable.
func New(ctx context.Context, e Embedder, cfg Config) (*Index, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingUnavailable)
	}
	cfg = cfg.withDefaults()

	ix := &Index{
		embedder: e,
		cfg:      cfg,
		records:  make(map[string]*Record),
	}
	ix.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerReset,
		OnStateChange: func(from, to resilience.State) {
			cfg.Logger.Warn(context.Background(), "semantic: embedding circuit state changed",
				observe.Field{Key: "from", Value: from.String()},
				observe.Field{Key: "to", Value: to.String()})
		},
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
	})
	opts := []resilience.ExecutorOption{
		resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxWait:       cfg.Timeout,
		})),
		resilience.WithCircuitBreaker(ix.breaker),
		resilience.WithTimeout(cfg.Timeout),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        cfg.RateLimit,
			Burst:       cfg.MaxConcurrent,
			WaitOnLimit: true,
			MaxWait:     cfg.Timeout,
		})))
	}
	ix.exec = resilience.NewExecutor(opts...)

	probeCtx, cancel := context.WithTimeout(ctx, cfg.InitTimeout)
	defer cancel()
	probe := resilience.NewExecutor(
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.InitAttempts,
			InitialDelay: 200 * time.Millisecond,
			Jitter:       true,
			RetryIf: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			OnRetry: func(attempt int, err error, delay time.Duration) {
				cfg.Logger.Warn(ctx, "semantic: embedding probe failed, retrying",
					observe.Field{Key: "attempt", Value: attempt},
					observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
					observe.Err(err))
			},
		})),
		resilience.WithTimeout(cfg.Timeout),
	)
	vecs, err := ix.call(probeCtx, probe, []string{"probe"})
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %w", ErrEmbeddingUnavailable, e.Model(), err)
	}
	if len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: probe %s returned an empty vector", ErrEmbeddingUnavailable, e.Model())
	}
	ix.dim = len(vecs[0])
	return ix, nil
}

// Model returns the embedder's model name.
func (ix *Index) Model() string { return ix.embedder.Model() }

// Threshold returns the configured default threshold.
func (ix *Index) Threshold() float64 { return ix.cfg.Threshold }

// Dim returns the vector dimension.
func (ix *Index) Dim() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Available reports whether embedding calls are currently allowed.
func (ix *Index) Available() bool {
	return ix.breaker.State() != resilience.StateOpen
}

// BreakerState returns the circuit breaker state name.
func (ix *Index) BreakerState() string {
	return ix.breaker.State().String()
}

// call runs one Embed call through exec. The result is handed over under a
// mutex because exec may abandon the call on timeout while it still runs.
func (ix *Index) call(ctx context.Context, exec *resilience.Executor, texts []string) ([][]float32, error) {
	var (
		mu  sync.Mutex
		out [][]float32
	)
	start := time.Now()
	err := exec.Execute(ctx, func(ctx context.Context) error {
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		mu.Lock()
		out = vecs
		mu.Unlock()
		return nil
	})
	if ix.cfg.OnEmbed != nil {
		ix.cfg.OnEmbed(ctx, time.Since(start), len(texts), err)
	}
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return out, nil
}

// Embed returns the unit-length embedding of text. Concurrent calls for the
// same text share one embedding request, which a caller giving up does not
// cancel. A vector whose dimension differs from the index is rejected with
// ErrDimensionMismatch. Errors other than ErrEmptyText wrap
// ErrEmbeddingUnavailable.
func (ix *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	ch := ix.flight.DoChan(text, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*ix.cfg.Timeout)
		defer cancel()
		vecs, err := ix.call(fctx, ix.exec, []string{text})
		if err != nil {
			return nil, err
		}
		return normalize(vecs[0]), nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, res.Err)
	}
	vec := res.Val.([]float32)
	if dim := ix.Dim(); len(vec) != dim {
		return nil, fmt.Errorf("%w: %w: got %d, index has %d", ErrEmbeddingUnavailable, ErrDimensionMismatch, len(vec), dim)
	}
	return vec, nil
}

// Add embeds text and indexes it under key, replacing any previous record.
func (ix *Index) Add(ctx context.Context, key, text, scope string) error {
	vec, err := ix.Embed(ctx, text)
	if err != nil {
		return err
	}
	return ix.put(Record{Key: key, QueryText: text, Scope: scope, Vector: vec})
}

// Insert indexes vec, as returned by Embed, under key.
func (ix *Index) Insert(key, text, scope string, vec []float32) error {
	return ix.put(Record{Key: key, QueryText: text, Scope: scope, Vector: vec})
}

func (ix *Index) put(rec Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.dim == 0 {
		ix.dim = len(rec.Vector)
	}
	if len(rec.Vector) != ix.dim {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(rec.Vector), ix.dim)
	}
	r := rec
	ix.records[rec.Key] = &r
	return nil
}

// FindNearest returns the most similar indexed query in scope if its
// similarity is at least threshold. A threshold <= 0 uses the configured
// default. An empty scope matches every record. Ties go to the smaller key.
// The error reports why no lookup could be made; it never accompanies a hit.
func (ix *Index) FindNearest(ctx context.Context, text, scope string, threshold float64) (Match, bool, error) {
	if threshold <= 0 {
		threshold = ix.cfg.Threshold
	}
	if ix.Len() == 0 {
		return Match{}, false, nil
	}
	vec, err := ix.Embed(ctx, text)
	if err != nil {
		return Match{}, false, err
	}

	var best Match
	found := false
	ix.mu.RLock()
	for _, r := range ix.records {
		if (scope != "" && r.Scope != scope) || len(r.Vector) != len(vec) {
			continue
		}
		sim := dot(vec, r.Vector)
		if !found || sim > best.Similarity || (sim == best.Similarity && r.Key < best.Key) {
			best = Match{Key: r.Key, QueryText: r.QueryText, Similarity: sim}
			found = true
		}
	}
	ix.mu.RUnlock()

	if !found || best.Similarity < threshold {
		return Match{}, false, nil
	}
	return best, true, nil
}

// Similar returns up to limit indexed queries in scope ordered by
// decreasing similarity, without applying a threshold.
func (ix *Index) Similar(ctx context.Context, text, scope string, limit int) ([]Match, error) {
	if ix.Len() == 0 {
		return nil, nil
	}
	vec, err := ix.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	matches := make([]Match, 0, len(ix.records))
	for _, r := range ix.records {
		if (scope != "" && r.Scope != scope) || len(r.Vector) != len(vec) {
			continue
		}
		matches = append(matches, Match{Key: r.Key, QueryText: r.QueryText, Similarity: dot(vec, r.Vector)})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Key < matches[j].Key
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Remove drops the record for key. Reports whether it existed.
func (ix *Index) Remove(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.records[key]
	delete(ix.records, key)
	return ok
}

// Retain drops every record whose key fails keep and returns how many were
// dropped.
func (ix *Index) Retain(keep func(key string) bool) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := 0
	for key := range ix.records {
		if !keep(key) {
			delete(ix.records, key)
			n++
		}
	}
	return n
}

// Reset drops every record.
func (ix *Index) Reset() {
	ix.mu.Lock()
	ix.records = make(map[string]*Record)
	ix.mu.Unlock()
}

// Has reports whether key is indexed.
func (ix *Index) Has(key string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.records[key]
	return ok
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Keys returns the indexed keys in sorted order.
func (ix *Index) Keys() []string {
	ix.mu.RLock()
	keys := make([]string, 0, len(ix.records))
	for k := range ix.records {
		keys = append(keys, k)
	}
	ix.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Records returns a copy of every record ordered by key.
func (ix *Index) Records() []Record {
	ix.mu.RLock()
	out := make([]Record, 0, len(ix.records))
	for _, r := range ix.records {
		c := *r
		c.Vector = append([]float32(nil), r.Vector...)
		out = append(out, c)
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore inserts precomputed records. Records whose dimension does not
// match the index are skipped. Returns how many were restored.
func (ix *Index) Restore(records []Record) int {
	n := 0
	for _, r := range records {
		r.Vector = normalize(r.Vector)
		if ix.put(r) == nil {
			n++
		}
	}
	return n
}

// Rebuild embeds items in batches, bounded in parallelism, and indexes
// them. It stops early if the embedding circuit opens. Returns how many
// items were indexed.
func (ix *Index) Rebuild(ctx context.Context, items []Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var added atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.RebuildConcurrency)
	for start := 0; start < len(items); start += ix.cfg.BatchSize {
		end := min(start+ix.cfg.BatchSize, len(items))
		batch := items[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, it := range batch {
				texts[i] = it.QueryText
			}
			vecs, err := ix.call(gctx, ix.exec, texts)
			if err != nil {
				if errors.Is(err, resilience.ErrCircuitOpen) || gctx.Err() != nil {
					return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
				}
				ix.cfg.Logger.Warn(gctx, "semantic: rebuild batch failed",
					observe.Field{Key: "batch_size", Value: len(batch)},
					observe.Err(err))
				return nil
			}
			for i, it := range batch {
				if err := ix.put(Record{Key: it.Key, QueryText: it.QueryText, Scope: it.Scope, Vector: normalize(vecs[i])}); err == nil {
					added.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return int(added.Load()), err
}
