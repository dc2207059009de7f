package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 128

// Entry is one cached query result.
type Entry struct {
	Key            string          `json:"key"`
	QueryText      string          `json:"query_text"`
	Context        json.RawMessage `json:"context"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	HitCount       int64           `json:"hit_count"`
	SizeBytes      int64           `json:"size_bytes"`
}

// Clone returns a deep copy of e. Callers may mutate the copy freely.
func (e Entry) Clone() Entry {
	out := e
	out.Context = cloneRaw(e.Context)
	out.Payload = cloneRaw(e.Payload)
	return out
}

// Row returns the index row describing e.
func (e Entry) Row() IndexRow {
	return IndexRow{
		Key:            e.Key,
		QueryText:      e.QueryText,
		Context:        cloneRaw(e.Context),
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		SizeBytes:      e.SizeBytes,
		HitCount:       e.HitCount,
	}
}

// SizeOf returns the accounted size of an entry in bytes.
func SizeOf(e Entry) int64 {
	return int64(len(e.QueryText) + len(e.Context) + len(e.Payload))
}

// IndexRow is the per-entry bookkeeping used for expiry, eviction and stats.
type IndexRow struct {
	Key            string          `json:"key"`
	QueryText      string          `json:"query_text"`
	Context        json.RawMessage `json:"context"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	SizeBytes      int64           `json:"size_bytes"`
	HitCount       int64           `json:"hit_count"`
}

// Stats summarizes the contents of a store.
type Stats struct {
	Entries        int           `json:"entry_count" yaml:"entry_count"`
	TotalSizeBytes int64         `json:"total_size_bytes" yaml:"total_size_bytes"`
	TotalHits      int64         `json:"hit_count_total" yaml:"hit_count_total"`
	OldestAge      time.Duration `json:"oldest_entry_age" yaml:"oldest_entry_age"`
}

// StatsOf computes Stats from a snapshot of index rows.
func StatsOf(rows []IndexRow, now time.Time) Stats {
	var s Stats
	var oldest time.Time
	for _, r := range rows {
		s.Entries++
		s.TotalSizeBytes += r.SizeBytes
		s.TotalHits += r.HitCount
		if oldest.IsZero() || r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
	}
	if !oldest.IsZero() && now.After(oldest) {
		s.OldestAge = now.Sub(oldest)
	}
	return s
}

// LoadReport describes what Load found and repaired.
type LoadReport struct {
	// Entries is the number of live entries after the load.
	Entries int

	// DroppedRows lists index rows removed because their entry was missing.
	DroppedRows []string

	// AdoptedEntries lists persisted entries that had no index row.
	AdoptedEntries []string

	// CorruptEntries lists entries that could not be decoded and were removed.
	CorruptEntries []string

	// CorruptIndex is set when the index itself was unreadable and rebuilt.
	CorruptIndex bool

	// TempFilesRemoved counts leftover partial writes that were cleaned up.
	TempFilesRemoved int
}

// Repaired reports whether Load changed anything.
func (r LoadReport) Repaired() bool {
	return len(r.DroppedRows) > 0 || len(r.AdoptedEntries) > 0 ||
		len(r.CorruptEntries) > 0 || r.CorruptIndex || r.TempFilesRemoved > 0
}

// Store persists cache entries keyed by cache key.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use, and
//     operations on the same key must be linearizable.
//   - Get never errors; any failure is reported as a miss.
//   - Set replaces the whole entry atomically. LastAccessedAt is set to the
//     store's clock and HitCount is carried over from the previous entry
//     under the same key. CreatedAt is set by CreationTime, so an entry
//     copied from another store keeps its age.
//   - Expired entries are misses on Get and are removed by Evict.
//   - Evict never removes an entry written after the eviction was planned.
type Store interface {
	// Get returns a copy of the entry and records the access.
	Get(ctx context.Context, key string) (Entry, bool)

	// Set inserts or replaces an entry.
	Set(ctx context.Context, e Entry) error

	// Delete removes an entry. Reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Evict removes expired entries, then least recently used entries until
	// the configured bounds hold.
	Evict(ctx context.Context) ([]Eviction, error)

	// Load rebuilds in-memory state from persisted data, repairing any
	// mismatch between the index and the entries.
	Load(ctx context.Context) (LoadReport, error)

	// Rows returns a snapshot of the index ordered by key.
	Rows(ctx context.Context) ([]IndexRow, error)

	// Stats summarizes the store.
	Stats(ctx context.Context) (Stats, error)

	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Close releases resources and flushes pending state.
	Close() error
}

// CreationTime returns created when it is set and not after now, and now
// otherwise.
func CreationTime(created, now time.Time) time.Time {
	if created.IsZero() || created.After(now) {
		return now
	}
	return created
}

// ValidateKey checks that a key is safe to use as an identifier in every
// backend, including as a file name.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "/\\\n\r\x00") || strings.HasPrefix(key, ".") {
		return ErrInvalidKey
	}
	return nil
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
