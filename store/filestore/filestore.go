// Package filestore implements store.Store as one JSON file per entry plus a
// JSON index file, all written with write-temp-then-rename.
//
// Layout:
//
//	<dir>/cache_metadata.json   index: key -> row (timestamps, size, hits)
//	<dir>/entries/<key>.json    one store.Entry per file
//
// Mutations write the entry before the index and remove the entry before
// the index row, so after a crash the index can only lag behind the entry
// files. Load repairs that lag. Access bookkeeping (last access, hit count)
// is kept in memory and persisted with the next mutation or on Close.
//
// A Store is safe for concurrent use within one process. Processes that
// share a cache should use the sqlstore or redisstore backends.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sightserver/querycache/internal/atomicfile"
	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/store"
)

const (
	// IndexFileName is the name of the index file inside the cache directory.
	IndexFileName = "cache_metadata.json"

	// EntriesDirName is the subdirectory holding entry files.
	EntriesDirName = "entries"

	indexVersion = 1
)

// Options configures a file Store.
type Options struct {
	// Dir is the cache directory. Required.
	Dir string

	// Policy bounds retention.
	Policy store.Policy

	// Logger receives warnings about unreadable entries. Defaults to a no-op.
	Logger observe.Logger

	// Now overrides the time source.
	Now func() time.Time
}

// Store is a directory-backed store.
type Store struct {
	dir        string
	entriesDir string
	indexPath  string
	policy     store.Policy
	now        func() time.Time
	logger     observe.Logger
	locks      *store.KeyLocks

	mu     sync.RWMutex
	rows   map[string]store.IndexRow
	dirty  bool
	closed bool
}

type indexFile struct {
	Version   int                       `json:"version"`
	UpdatedAt time.Time                 `json:"updated_at"`
	Entries   map[string]store.IndexRow `json:"entries"`
}

// Open creates the cache directory if needed and returns an empty Store.
// Call Load to pick up persisted entries.
func Open(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("filestore: dir is required")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		dir:        opts.Dir,
		entriesDir: filepath.Join(opts.Dir, EntriesDirName),
		indexPath:  filepath.Join(opts.Dir, IndexFileName),
		policy:     opts.Policy,
		now:        opts.Now,
		logger:     opts.Logger,
		locks:      store.NewKeyLocks(0),
		rows:       make(map[string]store.IndexRow),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = observe.NopLogger()
	}
	if err := os.MkdirAll(s.entriesDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", store.ErrStorage, s.entriesDir, err)
	}
	return s, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Get returns a copy of the entry and records the access.
func (s *Store) Get(ctx context.Context, key string) (store.Entry, bool) {
	if store.ValidateKey(key) != nil {
		return store.Entry{}, false
	}

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	s.mu.RLock()
	row, ok := s.rows[key]
	s.mu.RUnlock()
	if !ok {
		return store.Entry{}, false
	}

	now := s.now()
	if s.policy.Expired(row.CreatedAt, now) {
		return store.Entry{}, false
	}

	e, err := s.readEntry(key)
	if err != nil {
		s.logger.Warn(ctx, "filestore: unreadable entry treated as miss",
			observe.Field{Key: "key", Value: key},
			observe.Err(err))
		return store.Entry{}, false
	}

	row.LastAccessedAt = now
	row.HitCount++
	s.mu.Lock()
	s.rows[key] = row
	s.dirty = true
	s.mu.Unlock()

	e.CreatedAt = row.CreatedAt
	e.LastAccessedAt = row.LastAccessedAt
	e.HitCount = row.HitCount
	return e, true
}

// Set writes the entry file, then the index.
func (s *Store) Set(ctx context.Context, e store.Entry) error {
	if err := store.ValidateKey(e.Key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e = e.Clone()

	s.locks.Lock(e.Key)
	defer s.locks.Unlock(e.Key)

	s.mu.RLock()
	prev, had := s.rows[e.Key]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return store.ErrClosed
	}

	now := s.now()
	e.CreatedAt = store.CreationTime(e.CreatedAt, now)
	e.LastAccessedAt = now
	e.HitCount = 0
	if had {
		e.HitCount = prev.HitCount
	}
	e.SizeBytes = store.SizeOf(e)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode entry %s: %w", store.ErrStorage, e.Key, err)
	}
	if err := atomicfile.Write(s.entryPath(e.Key), data, 0o644); err != nil {
		return fmt.Errorf("%w: write entry %s: %w", store.ErrStorage, e.Key, err)
	}

	s.mu.Lock()
	s.rows[e.Key] = e.Row()
	err = s.saveIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write index: %w", store.ErrStorage, err)
	}
	return nil
}

// Delete removes the entry file, then the index row.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	if store.ValidateKey(key) != nil {
		return false, nil
	}

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	fileExisted, err := removeIfExists(s.entryPath(key))
	if err != nil {
		return false, fmt.Errorf("%w: remove entry %s: %w", store.ErrStorage, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, had := s.rows[key]
	if !had {
		return fileExisted, nil
	}
	delete(s.rows, key)
	if err := s.saveIndexLocked(); err != nil {
		return true, fmt.Errorf("%w: write index: %w", store.ErrStorage, err)
	}
	return true, nil
}

// Evict removes expired entries, then least recently used entries.
func (s *Store) Evict(_ context.Context) ([]store.Eviction, error) {
	rows := s.snapshot()
	plan := store.PlanEviction(rows, s.policy, s.now())
	if len(plan) == 0 {
		return nil, nil
	}

	var done []store.Eviction
	var evictErr error
	for _, ev := range plan {
		ok, err := s.evictOne(ev)
		if err != nil {
			evictErr = fmt.Errorf("%w: evict %s: %w", store.ErrStorage, ev.Key, err)
			break
		}
		if ok {
			done = append(done, ev)
		}
	}

	if len(done) > 0 {
		s.mu.Lock()
		err := s.saveIndexLocked()
		s.mu.Unlock()
		if err != nil && evictErr == nil {
			evictErr = fmt.Errorf("%w: write index: %w", store.ErrStorage, err)
		}
	}
	return done, evictErr
}

// evictOne removes one planned entry unless it was rewritten after planning.
// The index is not saved here; the caller saves once for the whole batch.
func (s *Store) evictOne(ev store.Eviction) (bool, error) {
	s.locks.Lock(ev.Key)
	defer s.locks.Unlock(ev.Key)

	s.mu.RLock()
	row, ok := s.rows[ev.Key]
	s.mu.RUnlock()
	if !ok || !row.CreatedAt.Equal(ev.CreatedAt) {
		return false, nil
	}

	if _, err := removeIfExists(s.entryPath(ev.Key)); err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.rows, ev.Key)
	s.dirty = true
	s.mu.Unlock()
	return true, nil
}

// Load reads the index and reconciles it with the entry files.
func (s *Store) Load(ctx context.Context) (store.LoadReport, error) {
	s.locks.LockAll()
	defer s.locks.UnlockAll()
	s.mu.Lock()
	defer s.mu.Unlock()

	var report store.LoadReport

	rows, err := s.readIndex()
	switch {
	case errors.Is(err, store.ErrCorruption):
		report.CorruptIndex = true
		s.logger.Warn(ctx, "filestore: index unreadable, rebuilding from entries", observe.Err(err))
		rows = make(map[string]store.IndexRow)
	case err != nil:
		return report, fmt.Errorf("%w: read index: %w", store.ErrStorage, err)
	}

	report.TempFilesRemoved += atomicfile.RemoveTemps(s.dir)

	dirEntries, err := os.ReadDir(s.entriesDir)
	if err != nil {
		return report, fmt.Errorf("%w: list entries: %w", store.ErrStorage, err)
	}

	seen := make(map[string]bool, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if atomicfile.IsTemp(name) {
			if os.Remove(filepath.Join(s.entriesDir, name)) == nil {
				report.TempFilesRemoved++
			}
			continue
		}
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")

		e, err := s.readEntry(key)
		if err == nil && e.Key != key {
			err = fmt.Errorf("%w: %s holds key %q", store.ErrCorruption, name, e.Key)
		}
		if err != nil || store.ValidateKey(key) != nil {
			_ = os.Remove(filepath.Join(s.entriesDir, name))
			report.CorruptEntries = append(report.CorruptEntries, key)
			continue
		}
		seen[key] = true

		row, ok := rows[key]
		if !ok {
			rows[key] = e.Row()
			report.AdoptedEntries = append(report.AdoptedEntries, key)
			continue
		}
		if !row.CreatedAt.Equal(e.CreatedAt) {
			// Entry was rewritten after the last index save.
			row.QueryText = e.QueryText
			row.Context = e.Context
			row.CreatedAt = e.CreatedAt
			row.SizeBytes = e.SizeBytes
			if row.LastAccessedAt.Before(e.CreatedAt) {
				row.LastAccessedAt = e.CreatedAt
			}
			rows[key] = row
			report.AdoptedEntries = append(report.AdoptedEntries, key)
		}
	}

	for key := range rows {
		if !seen[key] {
			delete(rows, key)
			report.DroppedRows = append(report.DroppedRows, key)
		}
	}

	sort.Strings(report.DroppedRows)
	sort.Strings(report.AdoptedEntries)
	sort.Strings(report.CorruptEntries)

	s.rows = rows
	s.closed = false
	report.Entries = len(rows)

	if report.Repaired() {
		if err := s.saveIndexLocked(); err != nil {
			return report, fmt.Errorf("%w: write repaired index: %w", store.ErrStorage, err)
		}
	}
	return report, nil
}

// Rows returns a snapshot of the index ordered by key.
func (s *Store) Rows(_ context.Context) ([]store.IndexRow, error) {
	rows := s.snapshot()
	store.SortRows(rows)
	return rows, nil
}

// Stats summarizes the store.
func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	return store.StatsOf(s.snapshot(), s.now()), nil
}

// Clear removes every entry file and empties the index.
func (s *Store) Clear(_ context.Context) (int, error) {
	s.locks.LockAll()
	defer s.locks.UnlockAll()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.rows)
	dirEntries, err := os.ReadDir(s.entriesDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: list entries: %w", store.ErrStorage, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if _, err := removeIfExists(filepath.Join(s.entriesDir, de.Name())); err != nil {
			return 0, fmt.Errorf("%w: remove %s: %w", store.ErrStorage, de.Name(), err)
		}
	}

	s.rows = make(map[string]store.IndexRow)
	if err := s.saveIndexLocked(); err != nil {
		return n, fmt.Errorf("%w: write index: %w", store.ErrStorage, err)
	}
	return n, nil
}

// Close persists pending access bookkeeping.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.dirty {
		return nil
	}
	if err := s.saveIndexLocked(); err != nil {
		return fmt.Errorf("%w: write index: %w", store.ErrStorage, err)
	}
	return nil
}

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.entriesDir, key+".json")
}

func (s *Store) snapshot() []store.IndexRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]store.IndexRow, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	return rows
}

func (s *Store) readEntry(key string) (store.Entry, error) {
	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		return store.Entry{}, err
	}
	var e store.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return store.Entry{}, fmt.Errorf("%w: %s: %v", store.ErrCorruption, key, err)
	}
	return e, nil
}

func (s *Store) readIndex() (map[string]store.IndexRow, error) {
	data, err := os.ReadFile(s.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]store.IndexRow), nil
	}
	if err != nil {
		return nil, err
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: index: %v", store.ErrCorruption, err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]store.IndexRow)
	}
	return idx.Entries, nil
}

// saveIndexLocked persists the index. Caller holds s.mu for writing.
func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(indexFile{
		Version:   indexVersion,
		UpdatedAt: s.now().UTC(),
		Entries:   s.rows,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicfile.Write(s.indexPath, data, 0o644); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func removeIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)
