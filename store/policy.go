package store

import (
	"fmt"
	"sort"
	"time"
)

// Policy bounds what a store retains.
type Policy struct {
	// TTL is the maximum age of an entry, measured from CreatedAt.
	// If zero, entries never expire.
	TTL time.Duration

	// MaxEntries bounds the number of entries. If zero, unbounded.
	MaxEntries int

	// MaxBytes bounds the summed SizeBytes of all entries. If zero, unbounded.
	MaxBytes int64
}

// DefaultPolicy returns the default retention policy.
// TTL: 1 hour, MaxEntries: 1000, MaxBytes: unbounded
func DefaultPolicy() Policy {
	return Policy{
		TTL:        time.Hour,
		MaxEntries: 1000,
	}
}

// Validate rejects negative bounds.
func (p Policy) Validate() error {
	if p.TTL < 0 {
		return fmt.Errorf("store: negative ttl %s", p.TTL)
	}
	if p.MaxEntries < 0 {
		return fmt.Errorf("store: negative max entries %d", p.MaxEntries)
	}
	if p.MaxBytes < 0 {
		return fmt.Errorf("store: negative max bytes %d", p.MaxBytes)
	}
	return nil
}

// Expired reports whether an entry created at createdAt is past its TTL.
func (p Policy) Expired(createdAt, now time.Time) bool {
	if p.TTL <= 0 {
		return false
	}
	return now.Sub(createdAt) > p.TTL
}

// EvictReason says why an entry was evicted.
type EvictReason string

const (
	ReasonExpired  EvictReason = "expired"
	ReasonCapacity EvictReason = "capacity"
)

// Eviction is one planned or performed eviction.
type Eviction struct {
	Key    string      `json:"key"`
	Reason EvictReason `json:"reason"`

	// CreatedAt is the CreatedAt of the row when the eviction was planned.
	// Backends skip the eviction if the row has been rewritten since.
	CreatedAt time.Time `json:"-"`
}

// PlanEviction decides which rows to evict under p at time now.
//
// Expired rows go first. The remaining rows are ordered by LastAccessedAt,
// then CreatedAt, then Key, and removed from the front until both
// MaxEntries and MaxBytes hold.
func PlanEviction(rows []IndexRow, p Policy, now time.Time) []Eviction {
	var plan []Eviction
	live := make([]IndexRow, 0, len(rows))
	var total int64

	for _, r := range rows {
		if p.Expired(r.CreatedAt, now) {
			plan = append(plan, Eviction{Key: r.Key, Reason: ReasonExpired, CreatedAt: r.CreatedAt})
			continue
		}
		live = append(live, r)
		total += r.SizeBytes
	}

	overCount := func(n int) bool { return p.MaxEntries > 0 && n > p.MaxEntries }
	overBytes := func(b int64) bool { return p.MaxBytes > 0 && b > p.MaxBytes }
	if !overCount(len(live)) && !overBytes(total) {
		return plan
	}

	sort.Slice(live, func(i, j int) bool { return lruLess(live[i], live[j]) })

	n := len(live)
	for _, r := range live {
		if !overCount(n) && !overBytes(total) {
			break
		}
		plan = append(plan, Eviction{Key: r.Key, Reason: ReasonCapacity, CreatedAt: r.CreatedAt})
		n--
		total -= r.SizeBytes
	}
	return plan
}

func lruLess(a, b IndexRow) bool {
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Key < b.Key
}

// SortRows orders rows by key.
func SortRows(rows []IndexRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
}
