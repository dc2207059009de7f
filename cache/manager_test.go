package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sightserver/querycache/semantic"
	"github.com/sightserver/querycache/store"
	"github.com/sightserver/querycache/store/filestore"
	"github.com/sightserver/querycache/store/memory"
	"github.com/sightserver/querycache/store/storetest"
)

// vectors maps normalized query text to a fixed embedding.
var vectors = map[string][]float32{
	"北京的5a景区":   {1, 0, 0},
	"北京有哪些5a景区": {0.99, 0.14, 0},
	"武汉大学在哪里":   {0, 1, 0},
	"上海的博物馆":    {0, 0.6, 0.8},
}

type countingEmbedder struct {
	texts atomic.Int64
	fail  bool
}

func (e *countingEmbedder) Model() string { return "table-v1" }

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("model not loaded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t != "probe" {
			e.texts.Add(1)
		}
		if v, ok := vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0.2, 0.2, 0.2}
		}
	}
	return out, nil
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Store == nil {
		opts.Store = memory.New(store.DefaultPolicy())
	}
	m, err := NewManager(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func payload(n int) map[string]any {
	return map[string]any{"count": n, "rows": []string{"故宫", "颐和园"}}
}

func TestManager_SetGetExact(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	qc := DefaultContext()

	if _, ok, err := m.Get(ctx, "北京的5A景区", qc); err != nil || ok {
		t.Fatalf("Get on empty cache = %v, %v; want miss", ok, err)
	}
	if err := m.Set(ctx, "北京的5A景区", qc, payload(2)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	res, ok, err := m.Get(ctx, " 北京的5A景区\n", qc)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want hit", ok, err)
	}
	if res.Kind != Exact || res.Similarity != 1 {
		t.Errorf("Kind = %s, Similarity = %v; want exact, 1", res.Kind, res.Similarity)
	}
	if res.MatchedQuery != "北京的5A景区" {
		t.Errorf("MatchedQuery = %q", res.MatchedQuery)
	}
	var got map[string]any
	if err := json.Unmarshal(res.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got["count"] != float64(2) {
		t.Errorf("payload = %v", got)
	}
}

func TestManager_SetRawMessage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	raw := json.RawMessage(`{"type":"FeatureCollection","features":[]}`)
	if err := m.Set(ctx, "q", DefaultContext(), raw); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	res, ok, _ := m.Get(ctx, "q", DefaultContext())
	if !ok || string(res.Payload) != string(raw) {
		t.Fatalf("payload = %s, want %s", res.Payload, raw)
	}
	if err := m.Set(ctx, "q", DefaultContext(), json.RawMessage(`{`)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invalid raw payload err = %v, want ErrInvalidInput", err)
	}
}

func TestManager_SetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	for i := 0; i < 3; i++ {
		if err := m.Set(ctx, "q", DefaultContext(), payload(1)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Entries != 1 {
		t.Errorf("Entries = %d, want 1", st.Entries)
	}
}

func TestManager_ContextSeparatesEntries(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	withSQL := QueryContext{EnableSpatial: true, Intent: IntentQuery, IncludeSQL: true}

	if err := m.Set(ctx, "q", DefaultContext(), payload(1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "q", withSQL); ok {
		t.Fatal("include_sql=true should not share the include_sql=false entry")
	}
}

func TestManager_InvalidInput(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})

	if _, _, err := m.Get(ctx, "  ", DefaultContext()); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Get empty err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := m.Get(ctx, "q", QueryContext{Intent: "explain"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Get bad intent err = %v, want ErrInvalidInput", err)
	}
	hash := strings.Repeat("ab", 16)
	if err := m.Set(ctx, hash, DefaultContext(), payload(1)); !errors.Is(err, ErrMalformedQuery) {
		t.Errorf("Set hash-like err = %v, want ErrMalformedQuery", err)
	}
	if err := m.Set(ctx, "q", DefaultContext(), func() {}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Set unmarshalable payload err = %v, want ErrInvalidInput", err)
	}
}

func TestManager_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	m := newTestManager(t, Options{
		Store: memory.New(store.Policy{MaxEntries: 2}, memory.WithClock(clock.Now)),
	})
	qc := DefaultContext()

	mustSet(t, m, "a", qc)
	clock.Advance(time.Second)
	mustSet(t, m, "b", qc)
	clock.Advance(time.Second)
	if _, ok, _ := m.Get(ctx, "a", qc); !ok {
		t.Fatal("a should be cached")
	}
	clock.Advance(time.Second)
	mustSet(t, m, "c", qc)

	if _, ok, _ := m.Get(ctx, "b", qc); ok {
		t.Error("b was least recently used and should be evicted")
	}
	for _, q := range []string{"a", "c"} {
		if _, ok, _ := m.Get(ctx, q, qc); !ok {
			t.Errorf("%s should survive eviction", q)
		}
	}
}

func TestManager_TTLAndSweep(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	m := newTestManager(t, Options{
		Store: memory.New(store.Policy{TTL: time.Hour}, memory.WithClock(clock.Now)),
	})
	qc := DefaultContext()
	mustSet(t, m, "q", qc)

	clock.Advance(2 * time.Hour)
	if _, ok, _ := m.Get(ctx, "q", qc); ok {
		t.Fatal("expired entry should miss")
	}
	n, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep evicted %d, want 1", n)
	}
}

func mustSet(t *testing.T, m *Manager, query string, qc QueryContext) {
	t.Helper()
	if err := m.Set(context.Background(), query, qc, payload(len(query))); err != nil {
		t.Fatalf("Set(%q) failed: %v", query, err)
	}
}

func TestManager_SemanticHit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Embedder: &countingEmbedder{}})
	qc := DefaultContext()
	if !m.SemanticEnabled() {
		t.Fatal("semantic search should be enabled")
	}
	mustSet(t, m, "北京的5A景区", qc)

	res, ok, err := m.Get(ctx, "北京有哪些5A景区", qc)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want semantic hit", ok, err)
	}
	if res.Kind != Semantic {
		t.Errorf("Kind = %s, want semantic", res.Kind)
	}
	if res.Similarity < semantic.DefaultThreshold || res.Similarity >= 1 {
		t.Errorf("Similarity = %v", res.Similarity)
	}
	if res.MatchedQuery != "北京的5A景区" {
		t.Errorf("MatchedQuery = %q", res.MatchedQuery)
	}

	if _, ok, _ := m.Get(ctx, "武汉大学在哪里", qc); ok {
		t.Error("dissimilar query should miss")
	}
}

func TestManager_SemanticRespectsContext(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Embedder: &countingEmbedder{}})
	mustSet(t, m, "北京的5A景区", DefaultContext())

	summary := QueryContext{EnableSpatial: true, Intent: IntentSummary}
	if _, ok, _ := m.Get(ctx, "北京有哪些5A景区", summary); ok {
		t.Fatal("semantic match must not cross contexts")
	}
}

func TestManager_StaleVectorIsRemoved(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(store.DefaultPolicy())
	m := newTestManager(t, Options{Store: mem, Embedder: &countingEmbedder{}})
	qc := DefaultContext()
	mustSet(t, m, "北京的5A景区", qc)

	key, _ := NewDefaultKeyer().Derive("北京的5A景区", qc)
	if _, err := mem.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "北京有哪些5A景区", qc); ok {
		t.Fatal("semantic hit on a deleted entry should be a miss")
	}
	st, _ := m.Stats(ctx)
	if st.Semantic.Records != 0 {
		t.Errorf("Semantic.Records = %d, want 0 after stale removal", st.Semantic.Records)
	}
}

func TestManager_VectorsFollowEntriesUnderConcurrentSets(t *testing.T) {
	ctx := context.Background()
	st := memory.New(store.Policy{TTL: time.Hour, MaxEntries: 2})
	m := newTestManager(t, Options{Store: st, Embedder: semantic.NgramEmbedder{Dim: 64}})
	if !m.SemanticEnabled() {
		t.Fatal("semantic index should be up")
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				query := fmt.Sprintf("景区查询 %d 号 第%d次", g, i)
				if err := m.Set(ctx, query, DefaultContext(), payload(i)); err != nil {
					t.Errorf("Set failed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	rows, err := st.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	live := make(map[string]bool, len(rows))
	for _, r := range rows {
		live[r.Key] = true
	}
	if n := m.index.Len(); n > len(rows) {
		t.Errorf("index holds %d vectors for %d entries", n, len(rows))
	}
	for _, k := range m.index.Keys() {
		if !live[k] {
			t.Errorf("vector %s has no entry", k)
		}
	}
}

func TestManager_Invalidate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Embedder: &countingEmbedder{}})
	qc := DefaultContext()
	mustSet(t, m, "北京的5A景区", qc)

	ok, err := m.Invalidate(ctx, "北京的5A景区", qc)
	if err != nil || !ok {
		t.Fatalf("Invalidate = %v, %v; want true", ok, err)
	}
	if _, hit, _ := m.Get(ctx, "北京有哪些5A景区", qc); hit {
		t.Error("invalidated entry should not be served semantically")
	}
	ok, err = m.Invalidate(ctx, "北京的5A景区", qc)
	if err != nil || ok {
		t.Errorf("second Invalidate = %v, %v; want false", ok, err)
	}
}

func TestManager_Clear(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Embedder: &countingEmbedder{}})
	mustSet(t, m, "北京的5A景区", DefaultContext())
	mustSet(t, m, "上海的博物馆", DefaultContext())

	n, err := m.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v; want 2", n, err)
	}
	st, _ := m.Stats(ctx)
	if st.Entries != 0 || st.Semantic.Records != 0 {
		t.Errorf("after Clear: entries=%d records=%d", st.Entries, st.Semantic.Records)
	}
}

func TestManager_Scrub(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(store.DefaultPolicy())
	m := newTestManager(t, Options{Store: mem})
	mustSet(t, m, "故宫开放时间", DefaultContext())

	bad := storetest.NewEntry("badkey", strings.Repeat("e", 32), payload(0))
	if err := mem.Set(ctx, bad); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	n, err := m.Scrub(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Scrub = %d, %v; want 1", n, err)
	}
	rows, _ := mem.Rows(ctx)
	if len(rows) != 1 || rows[0].QueryText != "故宫开放时间" {
		t.Errorf("rows after Scrub = %+v", rows)
	}
}

func TestManager_DegradesWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{
		Embedder: &countingEmbedder{fail: true},
		Semantic: semantic.Config{InitAttempts: 1, InitTimeout: time.Second},
	})
	if m.SemanticEnabled() {
		t.Fatal("semantic search should be disabled after a failed probe")
	}
	mustSet(t, m, "q", DefaultContext())
	if _, ok, _ := m.Get(ctx, "q", DefaultContext()); !ok {
		t.Error("exact lookups must keep working")
	}
	st, _ := m.Stats(ctx)
	if st.Semantic.Enabled || st.Semantic.Reason == "" {
		t.Errorf("Semantic stats = %+v; want disabled with a reason", st.Semantic)
	}
	if _, err := m.Similar(ctx, "q", DefaultContext(), 3); !errors.Is(err, semantic.ErrEmbeddingUnavailable) {
		t.Errorf("Similar err = %v, want ErrEmbeddingUnavailable", err)
	}
	if m.SemanticStatus() == nil {
		t.Error("SemanticStatus should report the failure")
	}
}

func TestManager_Similar(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Embedder: &countingEmbedder{}})
	mustSet(t, m, "北京的5A景区", DefaultContext())
	mustSet(t, m, "武汉大学在哪里", DefaultContext())

	got, err := m.Similar(ctx, "北京有哪些5A景区", DefaultContext(), 2)
	if err != nil {
		t.Fatalf("Similar failed: %v", err)
	}
	if len(got) != 2 || got[0].QueryText != "北京的5a景区" {
		t.Errorf("Similar = %+v", got)
	}
}

func TestManager_Stats(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Embedder: &countingEmbedder{}})
	qc := DefaultContext()
	mustSet(t, m, "北京的5A景区", qc)

	m.Get(ctx, "北京的5A景区", qc)
	m.Get(ctx, "北京有哪些5A景区", qc)
	m.Get(ctx, "上海的博物馆", qc)
	m.Get(ctx, "武汉大学在哪里", qc)

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Hits != 1 || st.SemanticHits != 1 || st.Misses != 2 {
		t.Errorf("hits=%d semantic=%d misses=%d; want 1, 1, 2", st.Hits, st.SemanticHits, st.Misses)
	}
	if st.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", st.HitRate)
	}
	if st.TotalHits != 2 {
		t.Errorf("TotalHits = %d, want 2", st.TotalHits)
	}
	if !st.Semantic.Enabled || st.Semantic.Model != "table-v1" || st.Semantic.Records != 1 || st.Semantic.Dim != 3 {
		t.Errorf("Semantic = %+v", st.Semantic)
	}
}

func TestManager_LookupAndStoreNeverFail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})

	if p, ok := m.Lookup(ctx, "", DefaultContext()); ok || p != nil {
		t.Error("Lookup with empty query should miss")
	}
	m.Store(ctx, strings.Repeat("a", 64), DefaultContext(), payload(1))
	m.Store(ctx, "q", DefaultContext(), payload(1))
	if _, ok := m.Lookup(ctx, "q", DefaultContext()); !ok {
		t.Error("Lookup should hit after Store")
	}
}

func TestManager_DoCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return payload(7), nil
	}

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _, err := m.Do(ctx, "北京的5A景区", DefaultContext(), compute)
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
			results[i] = p
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("compute called %d times, want 1", n)
	}
	for i, p := range results {
		if string(p) != string(results[0]) {
			t.Errorf("result %d = %s, want %s", i, p, results[0])
		}
	}

	p, kind, err := m.Do(ctx, "北京的5A景区", DefaultContext(), compute)
	if err != nil || kind != Exact || string(p) != string(results[0]) {
		t.Errorf("Do after fill = %s, %s, %v; want exact hit", p, kind, err)
	}
}

func TestManager_DoSharedComputeOutlivesCaller(t *testing.T) {
	m := newTestManager(t, Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	compute := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return payload(3), nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := m.Do(first, "武汉大学在哪里", DefaultContext(), compute)
		firstErr <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		p, _, err := m.Do(context.Background(), "武汉大学在哪里", DefaultContext(), compute)
		if err == nil && len(p) == 0 {
			err = errors.New("empty payload")
		}
		second <- err
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(release)
	if err := <-second; err != nil {
		t.Errorf("second caller err = %v, want nil", err)
	}
	if _, ok, _ := m.Get(context.Background(), "武汉大学在哪里", DefaultContext()); !ok {
		t.Error("shared compute result should be cached")
	}
}

func TestManager_DoDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	boom := errors.New("sql timeout")
	var calls int

	compute := func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return payload(1), nil
	}
	if _, _, err := m.Do(ctx, "q", DefaultContext(), compute); !errors.Is(err, boom) {
		t.Fatalf("first Do err = %v, want %v", err, boom)
	}
	if _, kind, err := m.Do(ctx, "q", DefaultContext(), compute); err != nil || kind != Miss {
		t.Fatalf("second Do = %s, %v; want computed miss", kind, err)
	}
	if calls != 2 {
		t.Errorf("compute called %d times, want 2", calls)
	}
}

func TestManager_DoComputesOnInvalidInput(t *testing.T) {
	m := newTestManager(t, Options{})
	p, kind, err := m.Do(context.Background(), "", DefaultContext(), func(context.Context) (any, error) {
		return []int{1}, nil
	})
	if err != nil || kind != Miss || string(p) != "[1]" {
		t.Errorf("Do = %s, %s, %v", p, kind, err)
	}
}

func openFileStore(t *testing.T, dir string) store.Store {
	t.Helper()
	s, err := filestore.Open(filestore.Options{Dir: dir, Policy: store.DefaultPolicy()})
	if err != nil {
		t.Fatalf("filestore.Open failed: %v", err)
	}
	return s
}

func TestManager_SnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	snap := filepath.Join(t.TempDir(), "vectors.json")
	qc := DefaultContext()

	first, err := NewManager(ctx, Options{Store: openFileStore(t, dir), Embedder: &countingEmbedder{}, SnapshotPath: snap})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	mustSet(t, first, "北京的5A景区", qc)
	mustSet(t, first, "上海的博物馆", qc)
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	emb := &countingEmbedder{}
	second := newTestManager(t, Options{Store: openFileStore(t, dir), Embedder: emb, SnapshotPath: snap})
	if n := emb.texts.Load(); n != 0 {
		t.Errorf("restored manager embedded %d texts, want 0", n)
	}
	if _, ok, _ := second.Get(ctx, "北京有哪些5A景区", qc); !ok {
		t.Error("semantic hit should survive a restart")
	}
}

func TestManager_RebuildsMissingVectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	qc := DefaultContext()

	first, err := NewManager(ctx, Options{Store: openFileStore(t, dir)})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	mustSet(t, first, "北京的5A景区", qc)
	mustSet(t, first, "上海的博物馆", qc)
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	emb := &countingEmbedder{}
	snap := filepath.Join(t.TempDir(), "vectors.json")
	second := newTestManager(t, Options{Store: openFileStore(t, dir), Embedder: emb, SnapshotPath: snap})
	if n := emb.texts.Load(); n != 2 {
		t.Errorf("rebuild embedded %d texts, want 2", n)
	}
	res, ok, _ := second.Get(ctx, "北京有哪些5A景区", qc)
	if !ok || res.Kind != Semantic {
		t.Errorf("Get after rebuild = %+v, %v; want semantic hit", res, ok)
	}
}

func TestManager_Closed(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, Options{Store: memory.New(store.DefaultPolicy())})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, _, err := m.Get(ctx, "q", DefaultContext()); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close err = %v, want ErrClosed", err)
	}
	if err := m.Set(ctx, "q", DefaultContext(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Close err = %v, want ErrClosed", err)
	}
	if _, _, err := m.Peek(ctx, "q", DefaultContext()); !errors.Is(err, ErrClosed) {
		t.Errorf("Peek after Close err = %v, want ErrClosed", err)
	}
}

func TestNewManager_RequiresStore(t *testing.T) {
	if _, err := NewManager(context.Background(), Options{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestHitKind_MarshalText(t *testing.T) {
	b, err := json.Marshal(map[string]HitKind{"a": Miss, "b": Exact, "c": Semantic})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(b) != `{"a":"miss","b":"exact","c":"semantic"}` {
		t.Errorf("got %s", b)
	}
}
