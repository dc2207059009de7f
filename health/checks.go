package health

import (
	"context"
	"fmt"

	"github.com/sightserver/querycache/store"
)

// Pinger is anything that can confirm it answers requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports Unhealthy when the store does not answer a ping.
type StoreChecker struct {
	name string
	p    Pinger
}

// NewStoreChecker checks p under name.
func NewStoreChecker(name string, p Pinger) *StoreChecker {
	return &StoreChecker{name: name, p: p}
}

func (c *StoreChecker) Name() string { return c.name }

func (c *StoreChecker) Check(ctx context.Context) Result {
	if err := c.p.Ping(ctx); err != nil {
		return Unhealthy("store unreachable", err)
	}
	return Healthy("store reachable")
}

// SemanticStatuser reports why similarity lookups cannot be served, or nil.
type SemanticStatuser interface {
	SemanticStatus() error
}

// SemanticChecker reports the similarity layer. Exact lookups keep working
// without it, so a failure is Degraded rather than Unhealthy.
type SemanticChecker struct {
	name string
	s    SemanticStatuser
}

// NewSemanticChecker checks s under name.
func NewSemanticChecker(name string, s SemanticStatuser) *SemanticChecker {
	return &SemanticChecker{name: name, s: s}
}

func (c *SemanticChecker) Name() string { return c.name }

func (c *SemanticChecker) Check(_ context.Context) Result {
	if err := c.s.SemanticStatus(); err != nil {
		r := Degraded("exact-only mode")
		r.Error = err
		return r
	}
	return Healthy("semantic lookups available")
}

// CapacityConfig configures a CapacityChecker.
type CapacityConfig struct {
	// Name defaults to "capacity".
	Name string

	// Stats reports current store usage. Required.
	Stats func(ctx context.Context) (store.Stats, error)

	// Policy holds the bounds usage is compared with. Zero bounds are
	// ignored.
	Policy store.Policy

	// WarningThreshold is the used fraction of a bound that reports
	// Degraded. Must be in (0, 1]. Default: 0.9
	WarningThreshold float64
}

// CapacityChecker reports Degraded when the store is close to its entry or
// byte bound. Eviction keeps the store within bounds, so a full store is
// never Unhealthy; a store that cannot report usage is.
type CapacityChecker struct {
	cfg CapacityConfig
}

// NewCapacityChecker creates a CapacityChecker.
func NewCapacityChecker(cfg CapacityConfig) *CapacityChecker {
	if cfg.Name == "" {
		cfg.Name = "capacity"
	}
	if cfg.WarningThreshold <= 0 || cfg.WarningThreshold > 1 {
		cfg.WarningThreshold = 0.9
	}
	return &CapacityChecker{cfg: cfg}
}

func (c *CapacityChecker) Name() string { return c.cfg.Name }

func (c *CapacityChecker) Check(ctx context.Context) Result {
	st, err := c.cfg.Stats(ctx)
	if err != nil {
		return Unhealthy("store stats unavailable", err)
	}

	details := map[string]any{
		"entry_count":      st.Entries,
		"total_size_bytes": st.TotalSizeBytes,
		"oldest_entry_age": st.OldestAge.String(),
	}
	var usage float64
	if p := c.cfg.Policy; p.MaxEntries > 0 {
		u := float64(st.Entries) / float64(p.MaxEntries)
		details["entries_percent"] = u * 100
		usage = max(usage, u)
	}
	if p := c.cfg.Policy; p.MaxBytes > 0 {
		u := float64(st.TotalSizeBytes) / float64(p.MaxBytes)
		details["bytes_percent"] = u * 100
		usage = max(usage, u)
	}

	if usage >= c.cfg.WarningThreshold {
		return Degraded(fmt.Sprintf("cache near capacity: %.1f%%", usage*100)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("cache usage %.1f%%", usage*100)).WithDetails(details)
}
