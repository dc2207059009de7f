package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/semantic"
	"github.com/sightserver/querycache/store"
)

// HitKind says how a lookup was answered.
type HitKind int

const (
	Miss HitKind = iota
	Exact
	Semantic
)

func (k HitKind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Semantic:
		return "semantic"
	}
	return "miss"
}

// MarshalText renders the kind by name.
func (k HitKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Result is a cache hit.
type Result struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
	Kind    HitKind         `json:"kind"`

	// Similarity is 1 for exact hits.
	Similarity   float64   `json:"similarity"`
	MatchedQuery string    `json:"matched_query"`
	HitCount     int64     `json:"hit_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Options configures a Manager.
type Options struct {
	// Store holds the entries. Required.
	Store store.Store
	// Keyer defaults to DefaultKeyer.
	Keyer Keyer
	// Embedder enables semantic lookups. Nil disables them.
	Embedder semantic.Embedder
	// Semantic configures the similarity index.
	Semantic semantic.Config
	// SnapshotPath, if set, persists index vectors across restarts.
	SnapshotPath string
	// ComputeTimeout bounds a compute call shared by concurrent Do misses.
	// Default: 1m
	ComputeTimeout time.Duration
	// Instruments records telemetry. Defaults to no-ops, or to Logger alone
	// when only Logger is set.
	Instruments *observe.Instruments
	Logger      observe.Logger
}

// Manager coordinates key derivation, the exact store and the optional
// semantic index. It is safe for concurrent use.
type Manager struct {
	store        store.Store
	keyer        Keyer
	index        *semantic.Index
	semErr       error
	snapshotPath string
	computeLimit time.Duration
	in           *observe.Instruments
	log          observe.Logger
	flight       singleflight.Group

	// writeMu pairs each store mutation with the matching index mutation,
	// so the index never holds a vector whose entry is gone.
	writeMu sync.Mutex

	hits         atomic.Int64
	semanticHits atomic.Int64
	misses       atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewManager loads the store, repairing it if needed, and brings up the
// semantic index when an embedder is configured. An embedder that fails
// its startup probe leaves the manager in exact-only mode; only store
// failures are returned.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	in := opts.Instruments
	if in == nil {
		in = observe.NopInstruments()
		if opts.Logger != nil {
			in.Logger = opts.Logger
		}
	}
	m := &Manager{
		store:        opts.Store,
		keyer:        opts.Keyer,
		snapshotPath: opts.SnapshotPath,
		computeLimit: opts.ComputeTimeout,
		in:           in,
		log:          in.Logger,
	}
	if m.keyer == nil {
		m.keyer = DefaultKeyer{}
	}
	if m.computeLimit <= 0 {
		m.computeLimit = time.Minute
	}

	report, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: load store: %w", err)
	}
	if report.Repaired() {
		m.log.Warn(ctx, "cache: store repaired on load",
			observe.Field{Key: "entries", Value: report.Entries},
			observe.Field{Key: "dropped_rows", Value: len(report.DroppedRows)},
			observe.Field{Key: "adopted_entries", Value: len(report.AdoptedEntries)},
			observe.Field{Key: "corrupt_entries", Value: len(report.CorruptEntries)},
			observe.Field{Key: "corrupt_index", Value: report.CorruptIndex},
			observe.Field{Key: "temp_files_removed", Value: report.TempFilesRemoved})
	} else {
		m.log.Info(ctx, "cache: store loaded", observe.Field{Key: "entries", Value: report.Entries})
	}

	if opts.Embedder == nil {
		m.semErr = errors.New("no embedder configured")
		return m, nil
	}
	cfg := opts.Semantic
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	onEmbed := cfg.OnEmbed
	cfg.OnEmbed = func(ctx context.Context, d time.Duration, texts int, err error) {
		m.in.Metrics.RecordEmbedding(ctx, d, texts, err)
		if onEmbed != nil {
			onEmbed(ctx, d, texts, err)
		}
	}
	ix, err := semantic.New(ctx, opts.Embedder, cfg)
	if err != nil {
		m.semErr = err
		m.log.Warn(ctx, "cache: semantic search disabled",
			observe.Field{Key: "model", Value: opts.Embedder.Model()},
			observe.Err(err))
		return m, nil
	}
	m.index = ix
	m.warmIndex(ctx)
	return m, nil
}

// warmIndex restores vectors from the snapshot, drops those without a
// stored entry and embeds entries that have no vector.
func (m *Manager) warmIndex(ctx context.Context) {
	rows, err := m.store.Rows(ctx)
	if err != nil {
		m.log.Warn(ctx, "cache: list rows for semantic index", observe.Err(err))
		return
	}
	if m.snapshotPath != "" {
		n, err := m.index.LoadSnapshot(m.snapshotPath)
		switch {
		case err == nil:
			m.log.Debug(ctx, "cache: semantic snapshot restored", observe.Field{Key: "records", Value: n})
		case errors.Is(err, semantic.ErrModelMismatch), errors.Is(err, semantic.ErrSnapshotCorrupt):
			m.log.Warn(ctx, "cache: semantic snapshot discarded, re-embedding", observe.Err(err))
			m.index.Reset()
		default:
			m.log.Warn(ctx, "cache: semantic snapshot unreadable", observe.Err(err))
		}
	}

	live := make(map[string]bool, len(rows))
	for _, r := range rows {
		live[r.Key] = true
	}
	if n := m.index.Retain(func(key string) bool { return live[key] }); n > 0 {
		m.log.Info(ctx, "cache: dropped orphan vectors", observe.Field{Key: "count", Value: n})
	}

	var items []semantic.Item
	for _, r := range rows {
		if m.index.Has(r.Key) || ValidateQueryText(r.QueryText) != nil {
			continue
		}
		scope, err := scopeOf(r.Context)
		if err != nil {
			continue
		}
		items = append(items, semantic.Item{Key: r.Key, QueryText: Normalize(r.QueryText), Scope: scope})
	}
	if len(items) == 0 {
		return
	}
	n, err := m.index.Rebuild(ctx, items)
	fields := []observe.Field{
		{Key: "missing", Value: len(items)},
		{Key: "embedded", Value: n},
	}
	if err != nil {
		m.log.Warn(ctx, "cache: semantic rebuild incomplete", append(fields, observe.Err(err))...)
		return
	}
	m.log.Info(ctx, "cache: semantic index rebuilt", fields...)
}

// scopeOf re-canonicalizes stored context JSON.
func scopeOf(raw json.RawMessage) (string, error) {
	qc, err := ParseContext(raw)
	if err != nil {
		return "", err
	}
	b, err := qc.Canonical()
	return string(b), err
}

// derive returns the key, normalized text and canonical context of a
// request.
func (m *Manager) derive(query string, qc QueryContext) (key, norm, scope string, err error) {
	canon, err := qc.Canonical()
	if err != nil {
		return "", "", "", err
	}
	key, err = m.keyer.Derive(query, qc)
	if err != nil {
		return "", "", "", err
	}
	return key, Normalize(query), string(canon), nil
}

// SemanticEnabled reports whether the similarity index is active.
func (m *Manager) SemanticEnabled() bool { return m.index != nil }

// Get looks up query under qc: the exact key first, then the nearest
// similar query in the same context. Only invalid input is an error;
// storage and embedding failures are misses.
func (m *Manager) Get(ctx context.Context, query string, qc QueryContext) (Result, bool, error) {
	if m.closed.Load() {
		return Result{}, false, ErrClosed
	}
	key, norm, scope, err := m.derive(query, qc)
	if err != nil {
		return Result{}, false, err
	}

	start := time.Now()
	var res Result
	var hit bool
	_ = m.in.Wrap(ctx, observe.OpGet, func(ctx context.Context) error {
		res, hit = m.lookup(ctx, key, norm, scope)
		return nil
	}, attribute.String("cache.key", key))

	result := observe.ResultMiss
	switch res.Kind {
	case Exact:
		m.hits.Add(1)
		result = observe.ResultHit
	case Semantic:
		m.semanticHits.Add(1)
		result = observe.ResultSemanticHit
	default:
		m.misses.Add(1)
	}
	m.in.Metrics.RecordLookup(ctx, result, time.Since(start))
	return res, hit, nil
}

func (m *Manager) lookup(ctx context.Context, key, norm, scope string) (Result, bool) {
	if e, ok := m.store.Get(ctx, key); ok {
		return resultOf(e, Exact, 1), true
	}
	if m.index == nil {
		return Result{}, false
	}
	match, ok, err := m.index.FindNearest(ctx, norm, scope, 0)
	if err != nil {
		m.log.Debug(ctx, "cache: semantic lookup skipped", observe.Err(err))
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	e, ok := m.store.Get(ctx, match.Key)
	if !ok {
		m.index.Remove(match.Key)
		m.log.Debug(ctx, "cache: removed stale vector", observe.Field{Key: "key", Value: match.Key})
		return Result{}, false
	}
	return resultOf(e, Semantic, match.Similarity), true
}

func resultOf(e store.Entry, kind HitKind, sim float64) Result {
	return Result{
		Key:          e.Key,
		Payload:      e.Payload,
		Kind:         kind,
		Similarity:   sim,
		MatchedQuery: e.QueryText,
		HitCount:     e.HitCount,
		CreatedAt:    e.CreatedAt,
	}
}

// encodePayload accepts json.RawMessage (validated) or any value
// encoding/json can marshal.
func encodePayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidInput)
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidInput, err)
	}
	return b, nil
}

// Set stores payload for query under qc, applies eviction and indexes the
// query for similarity lookups. Hash-like query text is rejected with
// ErrMalformedQuery. Indexing is best effort.
func (m *Manager) Set(ctx context.Context, query string, qc QueryContext, payload any) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ValidateQueryText(query); err != nil {
		m.in.Metrics.RecordStore(ctx, observe.OutcomeRejected)
		return err
	}
	key, norm, scope, err := m.derive(query, qc)
	if err != nil {
		m.in.Metrics.RecordStore(ctx, observe.OutcomeRejected)
		return err
	}
	raw, err := encodePayload(payload)
	if err != nil {
		m.in.Metrics.RecordStore(ctx, observe.OutcomeRejected)
		return err
	}

	return m.in.Wrap(ctx, observe.OpSet, func(ctx context.Context) error {
		var vec []float32
		if m.index != nil {
			v, err := m.index.Embed(ctx, norm)
			if err != nil {
				m.log.Debug(ctx, "cache: semantic index add skipped",
					observe.Field{Key: "key", Value: key}, observe.Err(err))
			}
			vec = v
		}

		m.writeMu.Lock()
		err := m.store.Set(ctx, store.Entry{
			Key:       key,
			QueryText: strings.TrimSpace(query),
			Context:   json.RawMessage(scope),
			Payload:   raw,
		})
		if err == nil && vec != nil {
			if err := m.index.Insert(key, norm, scope, vec); err != nil {
				m.log.Debug(ctx, "cache: semantic index add skipped",
					observe.Field{Key: "key", Value: key}, observe.Err(err))
			}
		}
		m.writeMu.Unlock()
		if err != nil {
			m.in.Metrics.RecordStore(ctx, observe.OutcomeFailed)
			return err
		}
		m.in.Metrics.RecordStore(ctx, observe.OutcomeStored)

		if _, err := m.evict(ctx); err != nil {
			m.log.Warn(ctx, "cache: eviction after set failed", observe.Err(err))
		}
		return nil
	}, attribute.String("cache.key", key))
}

// evict runs the store's eviction and drops the evicted vectors.
func (m *Manager) evict(ctx context.Context) ([]store.Eviction, error) {
	m.writeMu.Lock()
	evs, err := m.store.Evict(ctx)
	if m.index != nil {
		for _, ev := range evs {
			m.index.Remove(ev.Key)
		}
	}
	m.writeMu.Unlock()

	counts := map[store.EvictReason]int{}
	for _, ev := range evs {
		counts[ev.Reason]++
	}
	for reason, n := range counts {
		m.in.Metrics.RecordEvictions(ctx, string(reason), n)
	}
	return evs, err
}

// Invalidate removes query's entry under qc and its vector. Reports
// whether an entry existed.
func (m *Manager) Invalidate(ctx context.Context, query string, qc QueryContext) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	key, _, _, err := m.derive(query, qc)
	if err != nil {
		return false, err
	}
	var existed bool
	err = m.in.Wrap(ctx, observe.OpInvalidate, func(ctx context.Context) error {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		if m.index != nil {
			m.index.Remove(key)
		}
		var err error
		existed, err = m.store.Delete(ctx, key)
		return err
	}, attribute.String("cache.key", key))
	return existed, err
}

// Clear removes every entry and vector.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := m.in.Wrap(ctx, observe.OpClear, func(ctx context.Context) error {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		if m.index != nil {
			m.index.Reset()
		}
		var err error
		n, err = m.store.Clear(ctx)
		return err
	})
	return n, err
}

// Sweep evicts expired and over-capacity entries and drops vectors whose
// entry is gone. Returns the number of entries evicted.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := m.in.Wrap(ctx, observe.OpSweep, func(ctx context.Context) error {
		evs, err := m.evict(ctx)
		n = len(evs)
		if err != nil {
			return err
		}
		if m.index == nil {
			return nil
		}
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		rows, err := m.store.Rows(ctx)
		if err != nil {
			return err
		}
		live := make(map[string]bool, len(rows))
		for _, r := range rows {
			live[r.Key] = true
		}
		if orphans := m.index.Retain(func(k string) bool { return live[k] }); orphans > 0 {
			m.log.Info(ctx, "cache: dropped orphan vectors", observe.Field{Key: "count", Value: orphans})
		}
		return nil
	})
	return n, err
}

// Scrub removes entries whose stored query text is empty or looks like a
// hash. Returns how many were removed.
func (m *Manager) Scrub(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := m.in.Wrap(ctx, observe.OpScrub, func(ctx context.Context) error {
		rows, err := m.store.Rows(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, r := range rows {
			if ValidateQueryText(r.QueryText) == nil {
				continue
			}
			m.writeMu.Lock()
			if m.index != nil {
				m.index.Remove(r.Key)
			}
			ok, err := m.store.Delete(ctx, r.Key)
			m.writeMu.Unlock()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				n++
				m.log.Warn(ctx, "cache: scrubbed malformed entry",
					observe.Field{Key: "key", Value: r.Key},
					observe.Field{Key: "query_text", Value: r.QueryText})
			}
		}
		return errors.Join(errs...)
	})
	return n, err
}

// Similar lists the cached queries most similar to query under qc,
// without a threshold.
func (m *Manager) Similar(ctx context.Context, query string, qc QueryContext, limit int) ([]semantic.Match, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if m.index == nil {
		return nil, fmt.Errorf("%w: %w", semantic.ErrEmbeddingUnavailable, m.semErr)
	}
	_, norm, scope, err := m.derive(query, qc)
	if err != nil {
		return nil, err
	}
	return m.index.Similar(ctx, norm, scope, limit)
}

// Peek returns the entry for query under qc without recording an access.
// It reads the store's row listing, since a store Get counts as an access,
// so it is meant for diagnostics.
func (m *Manager) Peek(ctx context.Context, query string, qc QueryContext) (store.IndexRow, bool, error) {
	if m.closed.Load() {
		return store.IndexRow{}, false, ErrClosed
	}
	key, _, _, err := m.derive(query, qc)
	if err != nil {
		return store.IndexRow{}, false, err
	}
	rows, err := m.store.Rows(ctx)
	if err != nil {
		return store.IndexRow{}, false, err
	}
	for _, r := range rows {
		if r.Key == key {
			return r, true, nil
		}
	}
	return store.IndexRow{Key: key}, false, nil
}

// Lookup is Get for callers that must not fail: errors are logged and
// reported as a miss.
func (m *Manager) Lookup(ctx context.Context, query string, qc QueryContext) (json.RawMessage, bool) {
	res, ok, err := m.Get(ctx, query, qc)
	if err != nil {
		m.log.Warn(ctx, "cache: lookup failed", observe.Err(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return res.Payload, true
}

// Store is Set for callers that must not fail: errors are logged.
func (m *Manager) Store(ctx context.Context, query string, qc QueryContext, payload any) {
	if err := m.Set(ctx, query, qc, payload); err != nil {
		m.log.Warn(ctx, "cache: store failed", observe.Err(err))
	}
}

// Do returns the cached payload for query or computes, caches and returns
// it. Concurrent misses for the same key share one compute call, which runs
// detached from the callers' cancellation and is bounded by
// Options.ComputeTimeout. A caller whose ctx ends stops waiting. Compute
// errors are returned and never cached; cache errors only cost the cache.
func (m *Manager) Do(ctx context.Context, query string, qc QueryContext, compute func(ctx context.Context) (any, error)) (json.RawMessage, HitKind, error) {
	res, ok, err := m.Get(ctx, query, qc)
	if err == nil && ok {
		return res.Payload, res.Kind, nil
	}
	key, _, _, derr := m.derive(query, qc)
	if err != nil || derr != nil {
		out, err := compute(ctx)
		if err != nil {
			return nil, Miss, err
		}
		raw, err := encodePayload(out)
		return raw, Miss, err
	}

	ch := m.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.computeLimit)
		defer cancel()
		out, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		raw, err := encodePayload(out)
		if err != nil {
			return nil, err
		}
		m.Store(fctx, query, qc, raw)
		return raw, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, Miss, res.Err
		}
		return append(json.RawMessage(nil), res.Val.(json.RawMessage)...), Miss, nil
	case <-ctx.Done():
		return nil, Miss, ctx.Err()
	}
}

// Close saves the semantic snapshot and closes the store. Later calls
// return the first result.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		var errs []error
		if m.index != nil && m.snapshotPath != "" {
			if err := m.index.SaveSnapshot(m.snapshotPath); err != nil {
				errs = append(errs, err)
			} else {
				m.log.Debug(ctx, "cache: semantic snapshot saved",
					observe.Field{Key: "records", Value: m.index.Len()})
			}
		}
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: close store: %w", err))
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
