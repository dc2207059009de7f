// Package memory provides a non-persistent store.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sightserver/querycache/store"
)

// Store is an in-memory store implementation.
type Store struct {
	mu      sync.Mutex
	entries map[string]*store.Entry
	policy  store.Policy
	now     func() time.Time
}

// Option configures a memory Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store with the given policy.
func New(policy store.Policy, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*store.Entry),
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the entry. Returns false on miss or expiry.
func (s *Store) Get(_ context.Context, key string) (store.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return store.Entry{}, false
	}
	now := s.now()
	if s.policy.Expired(e.CreatedAt, now) {
		return store.Entry{}, false
	}
	e.LastAccessedAt = now
	e.HitCount++
	return e.Clone(), true
}

// Set stores a copy of e.
func (s *Store) Set(ctx context.Context, e store.Entry) error {
	if err := store.ValidateKey(e.Key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e = e.Clone()
	e.SizeBytes = store.SizeOf(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e.CreatedAt = store.CreationTime(e.CreatedAt, now)
	e.LastAccessedAt = now
	e.HitCount = 0
	if prev, ok := s.entries[e.Key]; ok {
		e.HitCount = prev.HitCount
	}
	s.entries[e.Key] = &e
	return nil
}

// Delete removes an entry. Idempotent.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

// Evict applies the policy.
func (s *Store) Evict(_ context.Context) ([]store.Eviction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan := store.PlanEviction(s.rowsLocked(), s.policy, s.now())
	for _, ev := range plan {
		delete(s.entries, ev.Key)
	}
	return plan, nil
}

// Load is a no-op for the memory store.
func (s *Store) Load(_ context.Context) (store.LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.LoadReport{Entries: len(s.entries)}, nil
}

// Rows returns a snapshot of the index.
func (s *Store) Rows(_ context.Context) ([]store.IndexRow, error) {
	s.mu.Lock()
	rows := s.rowsLocked()
	s.mu.Unlock()
	store.SortRows(rows)
	return rows, nil
}

// Stats summarizes the store.
func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.StatsOf(s.rowsLocked(), s.now()), nil
}

// Clear removes all entries.
func (s *Store) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*store.Entry)
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) rowsLocked() []store.IndexRow {
	rows := make([]store.IndexRow, 0, len(s.entries))
	for _, e := range s.entries {
		rows = append(rows, e.Row())
	}
	return rows
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)
