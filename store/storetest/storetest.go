// Package storetest provides a conformance suite for store.Store backends.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sightserver/querycache/store"
)

// Clock is a manually advanced clock for deterministic expiry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory opens a fresh, empty, loaded store using the given policy and clock.
type Factory func(t *testing.T, p store.Policy, clock *Clock) store.Store

// NewEntry builds an entry with a JSON payload for tests.
func NewEntry(key, query string, payload any) store.Entry {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return store.Entry{
		Key:       key,
		QueryText: query,
		Context:   json.RawMessage(`{"enable_spatial":true,"include_sql":false,"query_intent":"query"}`),
		Payload:   raw,
	}
}

// Run executes the conformance suite against the backend built by open.
func Run(t *testing.T, open Factory) {
	t.Run("GetSetDelete", func(t *testing.T) { testGetSetDelete(t, open) })
	t.Run("OverwritePreservesHits", func(t *testing.T) { testOverwrite(t, open) })
	t.Run("SetKeepsAge", func(t *testing.T) { testKeepsAge(t, open) })
	t.Run("GetReturnsCopy", func(t *testing.T) { testGetReturnsCopy(t, open) })
	t.Run("TTLExpiry", func(t *testing.T) { testTTL(t, open) })
	t.Run("EvictLRU", func(t *testing.T) { testEvictLRU(t, open) })
	t.Run("EvictMaxBytes", func(t *testing.T) { testEvictBytes(t, open) })
	t.Run("ClearAndStats", func(t *testing.T) { testClearAndStats(t, open) })
	t.Run("InvalidKey", func(t *testing.T) { testInvalidKey(t, open) })
	t.Run("ConcurrentSameKey", func(t *testing.T) { testConcurrent(t, open) })
}

func testGetSetDelete(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.Policy{TTL: time.Hour, MaxEntries: 10}, NewClock())

	if _, ok := s.Get(ctx, "missing"); ok {
		t.Fatal("Get on empty store should miss")
	}

	e := NewEntry("k1", "北京的5a景区", map[string]any{"count": 3})
	if err := s.Set(ctx, e); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := s.Get(ctx, "k1")
	if !ok {
		t.Fatal("Get after Set should hit")
	}
	if got.QueryText != e.QueryText {
		t.Errorf("QueryText = %q, want %q", got.QueryText, e.QueryText)
	}
	if string(got.Payload) != string(e.Payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, e.Payload)
	}
	if got.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", got.HitCount)
	}
	if got.SizeBytes != store.SizeOf(e) {
		t.Errorf("SizeBytes = %d, want %d", got.SizeBytes, store.SizeOf(e))
	}

	existed, err := s.Delete(ctx, "k1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !existed {
		t.Error("Delete should report existing entry")
	}
	if _, ok := s.Get(ctx, "k1"); ok {
		t.Error("Get after Delete should miss")
	}

	existed, err = s.Delete(ctx, "k1")
	if err != nil {
		t.Errorf("Delete on missing key should not error, got: %v", err)
	}
	if existed {
		t.Error("Delete on missing key should report false")
	}
}

func testOverwrite(t *testing.T, open Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, store.Policy{TTL: time.Hour, MaxEntries: 10}, clock)

	if err := s.Set(ctx, NewEntry("k", "q", 1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Get(ctx, "k")
	s.Get(ctx, "k")

	clock.Advance(time.Minute)
	if err := s.Set(ctx, NewEntry("k", "q", 2)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := s.Get(ctx, "k")
	if !ok {
		t.Fatal("Get after overwrite should hit")
	}
	if string(got.Payload) != "2" {
		t.Errorf("Payload = %s, want 2", got.Payload)
	}
	if got.HitCount != 3 {
		t.Errorf("HitCount = %d, want 3 (carried over)", got.HitCount)
	}
	if !got.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, clock.Now())
	}
}

func testKeepsAge(t *testing.T, open Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, store.Policy{TTL: time.Hour, MaxEntries: 10}, clock)

	copied := NewEntry("copied", "q", 1)
	copied.CreatedAt = clock.Now().Add(-50 * time.Minute)
	if err := s.Set(ctx, copied); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	future := NewEntry("future", "q", 2)
	future.CreatedAt = clock.Now().Add(time.Hour)
	if err := s.Set(ctx, future); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := s.Get(ctx, "copied")
	if !ok {
		t.Fatal("Get(copied) should hit")
	}
	if !got.CreatedAt.Equal(copied.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, copied.CreatedAt)
	}
	got, ok = s.Get(ctx, "future")
	if !ok {
		t.Fatal("Get(future) should hit")
	}
	if !got.CreatedAt.Equal(clock.Now()) {
		t.Errorf("future CreatedAt = %v, want clamped to %v", got.CreatedAt, clock.Now())
	}

	clock.Advance(11 * time.Minute)
	if _, ok := s.Get(ctx, "copied"); ok {
		t.Error("copied entry should expire on its original schedule")
	}
	if _, ok := s.Get(ctx, "future"); !ok {
		t.Error("clamped entry should still be fresh")
	}
}

func testGetReturnsCopy(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.Policy{TTL: time.Hour}, NewClock())

	if err := s.Set(ctx, NewEntry("k", "q", "value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ := s.Get(ctx, "k")
	for i := range got.Payload {
		got.Payload[i] = 'x'
	}

	again, ok := s.Get(ctx, "k")
	if !ok {
		t.Fatal("second Get should hit")
	}
	if string(again.Payload) != `"value"` {
		t.Errorf("stored payload mutated through returned copy: %s", again.Payload)
	}
}

func testTTL(t *testing.T, open Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, store.Policy{TTL: time.Hour, MaxEntries: 10}, clock)

	if err := s.Set(ctx, NewEntry("old", "q", 1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clock.Advance(30 * time.Minute)
	if err := s.Set(ctx, NewEntry("new", "q2", 2)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clock.Advance(31 * time.Minute)

	if _, ok := s.Get(ctx, "old"); ok {
		t.Error("expired entry should miss")
	}
	if _, ok := s.Get(ctx, "new"); !ok {
		t.Error("fresh entry should hit")
	}

	evicted, err := s.Evict(ctx)
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if len(evicted) != 1 || evicted[0].Key != "old" || evicted[0].Reason != store.ReasonExpired {
		t.Errorf("Evict = %+v, want [old expired]", evicted)
	}

	rows, err := s.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != "new" {
		t.Errorf("Rows = %+v, want only new", rows)
	}
}

func testEvictLRU(t *testing.T, open Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, store.Policy{TTL: time.Hour, MaxEntries: 2}, clock)

	for _, k := range []string{"a", "b"} {
		if err := s.Set(ctx, NewEntry(k, k, k)); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
		clock.Advance(time.Second)
	}
	if _, ok := s.Get(ctx, "a"); !ok {
		t.Fatal("Get(a) should hit")
	}
	clock.Advance(time.Second)
	if err := s.Set(ctx, NewEntry("c", "c", "c")); err != nil {
		t.Fatalf("Set(c) failed: %v", err)
	}

	evicted, err := s.Evict(ctx)
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if len(evicted) != 1 || evicted[0].Key != "b" || evicted[0].Reason != store.ReasonCapacity {
		t.Fatalf("Evict = %+v, want [b capacity]", evicted)
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := s.Get(ctx, k); !ok {
			t.Errorf("Get(%s) should survive eviction", k)
		}
	}
	if _, ok := s.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
}

func testEvictBytes(t *testing.T, open Factory) {
	ctx := context.Background()
	clock := NewClock()
	first := NewEntry("a", "a", "0123456789")
	limit := store.SizeOf(first)*2 + 1
	s := open(t, store.Policy{MaxBytes: limit}, clock)

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, NewEntry(k, k, "0123456789")); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
		clock.Advance(time.Second)
	}

	evicted, err := s.Evict(ctx)
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if len(evicted) != 1 || evicted[0].Key != "a" {
		t.Errorf("Evict = %+v, want [a]", evicted)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.TotalSizeBytes > limit {
		t.Errorf("TotalSizeBytes = %d, want <= %d", st.TotalSizeBytes, limit)
	}
}

func testClearAndStats(t *testing.T, open Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, store.Policy{TTL: time.Hour}, clock)

	for i := 0; i < 3; i++ {
		if err := s.Set(ctx, NewEntry(fmt.Sprintf("k%d", i), "q", i)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	s.Get(ctx, "k0")
	clock.Advance(10 * time.Second)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Entries != 3 {
		t.Errorf("Entries = %d, want 3", st.Entries)
	}
	if st.TotalHits != 1 {
		t.Errorf("TotalHits = %d, want 1", st.TotalHits)
	}
	if st.OldestAge != 10*time.Second {
		t.Errorf("OldestAge = %v, want 10s", st.OldestAge)
	}

	n, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Clear removed %d, want 3", n)
	}
	st, _ = s.Stats(ctx)
	if st.Entries != 0 {
		t.Errorf("Entries after Clear = %d, want 0", st.Entries)
	}
}

func testInvalidKey(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.Policy{}, NewClock())

	for _, key := range []string{"", "../escape", "a/b"} {
		if err := s.Set(ctx, NewEntry(key, "q", 1)); err == nil {
			t.Errorf("Set(%q) should fail", key)
		}
	}
}

func testConcurrent(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, store.Policy{TTL: time.Hour, MaxEntries: 5}, NewClock())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, NewEntry("shared", "q", i))
			if got, ok := s.Get(ctx, "shared"); ok && len(got.Payload) == 0 {
				t.Error("hit returned empty payload")
			}
			_, _ = s.Evict(ctx)
		}(i)
	}
	wg.Wait()

	if _, ok := s.Get(ctx, "shared"); !ok {
		t.Error("shared key should be present after concurrent writes")
	}
}
