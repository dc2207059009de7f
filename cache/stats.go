package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/sightserver/querycache/store"
)

// Stats summarizes the store and this manager's lookups since it started.
type Stats struct {
	store.Stats `yaml:",inline"`

	Hits         int64   `json:"hits" yaml:"hits"`
	SemanticHits int64   `json:"semantic_hits" yaml:"semantic_hits"`
	Misses       int64   `json:"misses" yaml:"misses"`
	HitRate      float64 `json:"hit_rate" yaml:"hit_rate"`

	Semantic SemanticStats `json:"semantic" yaml:"semantic"`
}

// SemanticStats describes the similarity index.
type SemanticStats struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Model     string  `json:"model,omitempty" yaml:"model,omitempty"`
	Records   int     `json:"records" yaml:"records"`
	Dim       int     `json:"dim,omitempty" yaml:"dim,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Breaker   string  `json:"breaker,omitempty" yaml:"breaker,omitempty"`

	// Reason says why semantic search is disabled.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Stats returns the current statistics. HitRate counts semantic hits as
// hits.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if m.closed.Load() {
		return Stats{}, ErrClosed
	}
	st, err := m.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats: %w", err)
	}
	out := Stats{
		Stats:        st,
		Hits:         m.hits.Load(),
		SemanticHits: m.semanticHits.Load(),
		Misses:       m.misses.Load(),
	}
	if total := out.Hits + out.SemanticHits + out.Misses; total > 0 {
		out.HitRate = float64(out.Hits+out.SemanticHits) / float64(total)
	}
	out.Semantic = m.semanticStats()
	return out, nil
}

func (m *Manager) semanticStats() SemanticStats {
	if m.index == nil {
		s := SemanticStats{}
		if m.semErr != nil {
			s.Reason = m.semErr.Error()
		}
		return s
	}
	return SemanticStats{
		Enabled:   true,
		Model:     m.index.Model(),
		Records:   m.index.Len(),
		Dim:       m.index.Dim(),
		Threshold: m.index.Threshold(),
		Breaker:   m.index.BreakerState(),
	}
}

// SemanticStatus reports whether similarity lookups can currently be
// served. It returns nil when the index is up and its breaker is not
// open.
func (m *Manager) SemanticStatus() error {
	if m.index == nil {
		if m.semErr != nil {
			return m.semErr
		}
		return errors.New("semantic search disabled")
	}
	if !m.index.Available() {
		return fmt.Errorf("embedding circuit %s", m.index.BreakerState())
	}
	return nil
}

// Ping checks that the store answers.
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	_, err := m.store.Stats(ctx)
	return err
}
