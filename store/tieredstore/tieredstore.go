// Package tieredstore implements store.Store over two backends: a primary
// shared tier (sqlstore or redisstore) in front of a local secondary tier
// (usually filestore).
//
// Reads try the primary first and fall back to the secondary. A hit in one
// tier is copied into the other when it is missing there. Writes go to the
// primary, then the secondary; a failed secondary write undoes the primary
// write. Deletes, evictions and Clear apply to both tiers, and Load copies
// entries that only one tier holds into the other.
//
// Copies keep the entry's CreatedAt, so a copied entry expires on the
// schedule it was first written with.
package tieredstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/store"
)

// Options configures a tiered Store.
type Options struct {
	// Primary is read first. Required.
	Primary store.Store

	// Secondary is read when the primary misses. Required.
	Secondary store.Store

	// Logger receives back-fill failures. Defaults to a no-op.
	Logger observe.Logger

	// Now overrides the time source used for Stats.
	Now func() time.Time
}

// Store is a two-tier store.
type Store struct {
	primary   store.Store
	secondary store.Store
	log       observe.Logger
	now       func() time.Time

	// locks serializes per-key writes across both tiers. Evict, Load and
	// Clear take every stripe.
	locks *store.KeyLocks
}

// New returns a Store over opts.Primary and opts.Secondary. It takes
// ownership of both: Close closes them.
func New(opts Options) (*Store, error) {
	if opts.Primary == nil || opts.Secondary == nil {
		return nil, errors.New("tieredstore: primary and secondary are required")
	}
	s := &Store{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		log:       opts.Logger,
		now:       opts.Now,
		locks:     store.NewKeyLocks(0),
	}
	if s.log == nil {
		s.log = observe.NopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Get reads the primary, then the secondary, and back-fills the tier that
// missed.
func (s *Store) Get(ctx context.Context, key string) (store.Entry, bool) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if e, ok := s.primary.Get(ctx, key); ok {
		if _, ok := s.secondary.Get(ctx, key); !ok {
			s.backfill(ctx, s.secondary, "secondary", e)
		}
		return e, true
	}
	e, ok := s.secondary.Get(ctx, key)
	if !ok {
		return store.Entry{}, false
	}
	s.backfill(ctx, s.primary, "primary", e)
	return e, true
}

func (s *Store) backfill(ctx context.Context, to store.Store, tier string, e store.Entry) {
	if err := to.Set(ctx, e); err != nil {
		s.log.Warn(ctx, "tieredstore: back-fill failed",
			observe.Field{Key: "tier", Value: tier},
			observe.Field{Key: "key", Value: e.Key},
			observe.Err(err))
	}
}

// Set writes both tiers. If the secondary write fails the primary write is
// undone.
func (s *Store) Set(ctx context.Context, e store.Entry) error {
	if err := store.ValidateKey(e.Key); err != nil {
		return err
	}
	s.locks.Lock(e.Key)
	defer s.locks.Unlock(e.Key)

	if err := s.primary.Set(ctx, e); err != nil {
		return err
	}
	if err := s.secondary.Set(ctx, e); err != nil {
		_, undoErr := s.primary.Delete(context.WithoutCancel(ctx), e.Key)
		return errors.Join(fmt.Errorf("tieredstore: secondary: %w", err), undoErr)
	}
	return nil
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	a, errA := s.primary.Delete(ctx, key)
	b, errB := s.secondary.Delete(ctx, key)
	return a || b, errors.Join(errA, errB)
}

// Evict runs each tier's eviction and removes every evicted key from the
// other tier. Each key is reported once, with the reason the primary gave
// when both tiers evicted it.
func (s *Store) Evict(ctx context.Context) ([]store.Eviction, error) {
	s.locks.LockAll()
	defer s.locks.UnlockAll()

	evA, errA := s.primary.Evict(ctx)
	evB, errB := s.secondary.Evict(ctx)
	errs := []error{errA, errB}

	seen := make(map[string]bool, len(evA)+len(evB))
	out := make([]store.Eviction, 0, len(evA)+len(evB))
	for _, ev := range evA {
		seen[ev.Key] = true
		out = append(out, ev)
	}
	fromSecondary := make(map[string]bool, len(evB))
	for _, ev := range evB {
		fromSecondary[ev.Key] = true
		if !seen[ev.Key] {
			seen[ev.Key] = true
			out = append(out, ev)
		}
	}

	for _, ev := range out {
		if !fromSecondary[ev.Key] {
			if _, err := s.secondary.Delete(ctx, ev.Key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, ev := range evB {
		if _, err := s.primary.Delete(ctx, ev.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Load loads both tiers, then copies entries held by only one tier into
// the other. Copied keys are reported as adopted.
func (s *Store) Load(ctx context.Context) (store.LoadReport, error) {
	s.locks.LockAll()
	defer s.locks.UnlockAll()

	repA, err := s.primary.Load(ctx)
	if err != nil {
		return repA, fmt.Errorf("tieredstore: load primary: %w", err)
	}
	repB, err := s.secondary.Load(ctx)
	if err != nil {
		return repB, fmt.Errorf("tieredstore: load secondary: %w", err)
	}
	report := store.LoadReport{
		DroppedRows:      append(repA.DroppedRows, repB.DroppedRows...),
		AdoptedEntries:   append(repA.AdoptedEntries, repB.AdoptedEntries...),
		CorruptEntries:   append(repA.CorruptEntries, repB.CorruptEntries...),
		CorruptIndex:     repA.CorruptIndex || repB.CorruptIndex,
		TempFilesRemoved: repA.TempFilesRemoved + repB.TempFilesRemoved,
	}

	rowsA, err := s.primary.Rows(ctx)
	if err != nil {
		return report, fmt.Errorf("tieredstore: list primary: %w", err)
	}
	rowsB, err := s.secondary.Rows(ctx)
	if err != nil {
		return report, fmt.Errorf("tieredstore: list secondary: %w", err)
	}
	inA := keySet(rowsA)
	inB := keySet(rowsB)

	var errs []error
	copyMissing := func(rows []store.IndexRow, other map[string]bool, from, to store.Store) {
		for _, r := range rows {
			if other[r.Key] {
				continue
			}
			e, ok := from.Get(ctx, r.Key)
			if !ok {
				continue
			}
			if err := to.Set(ctx, e); err != nil {
				errs = append(errs, err)
				continue
			}
			report.AdoptedEntries = append(report.AdoptedEntries, r.Key)
		}
	}
	copyMissing(rowsA, inB, s.primary, s.secondary)
	copyMissing(rowsB, inA, s.secondary, s.primary)

	rows, err := s.rows(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.Entries = len(rows)
	return report, errors.Join(errs...)
}

// Rows returns the union of both tiers' rows ordered by key. The primary's
// row wins when both tiers hold a key.
func (s *Store) Rows(ctx context.Context) ([]store.IndexRow, error) {
	return s.rows(ctx)
}

func (s *Store) rows(ctx context.Context) ([]store.IndexRow, error) {
	rowsA, err := s.primary.Rows(ctx)
	if err != nil {
		return nil, err
	}
	rowsB, err := s.secondary.Rows(ctx)
	if err != nil {
		return nil, err
	}
	inA := keySet(rowsA)
	for _, r := range rowsB {
		if !inA[r.Key] {
			rowsA = append(rowsA, r)
		}
	}
	store.SortRows(rowsA)
	return rowsA, nil
}

// Stats summarizes the union of both tiers.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	return store.StatsOf(rows, s.now()), nil
}

// Clear empties both tiers and returns how many distinct keys were held.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.locks.LockAll()
	defer s.locks.UnlockAll()

	rows, err := s.rows(ctx)
	if err != nil {
		return 0, err
	}
	_, errA := s.primary.Clear(ctx)
	_, errB := s.secondary.Clear(ctx)
	return len(rows), errors.Join(errA, errB)
}

// Close closes both tiers.
func (s *Store) Close() error {
	return errors.Join(s.primary.Close(), s.secondary.Close())
}

func keySet(rows []store.IndexRow) map[string]bool {
	m := make(map[string]bool, len(rows))
	for _, r := range rows {
		m[r.Key] = true
	}
	return m
}

var _ store.Store = (*Store)(nil)
