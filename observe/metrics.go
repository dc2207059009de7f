package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Lookup results recorded on querycache.lookups.
const (
	ResultHit         = "hit"
	ResultSemanticHit = "semantic_hit"
	ResultMiss        = "miss"
	ResultError       = "error"
)

// Store outcomes recorded on querycache.stores.
const (
	OutcomeStored   = "stored"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics records cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records one Get with its result and latency.
	RecordLookup(ctx context.Context, result string, d time.Duration)
	// RecordStore records one Set with its outcome.
	RecordStore(ctx context.Context, outcome string)
	// RecordEvictions records n entries removed for reason.
	RecordEvictions(ctx context.Context, reason string, n int)
	// RecordEmbedding records one embedding call.
	RecordEmbedding(ctx context.Context, d time.Duration, texts int, err error)
}

type metricsImpl struct {
	lookups       metric.Int64Counter
	lookupLatency metric.Float64Histogram
	stores        metric.Int64Counter
	evictions     metric.Int64Counter
	embedDuration metric.Float64Histogram
	embedErrors   metric.Int64Counter
}

// NewMetrics registers the cache instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	if meter == nil {
		return NoopMetrics(), nil
	}
	lookups, err := meter.Int64Counter(
		"querycache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}
	lookupLatency, err := meter.Float64Histogram(
		"querycache.lookup.duration_ms",
		metric.WithDescription("Cache lookup latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	stores, err := meter.Int64Counter(
		"querycache.stores",
		metric.WithDescription("Cache writes by outcome"),
		metric.WithUnit("{store}"),
	)
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter(
		"querycache.evictions",
		metric.WithDescription("Entries removed by eviction reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}
	embedDuration, err := meter.Float64Histogram(
		"querycache.embedding.duration_ms",
		metric.WithDescription("Embedding call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	embedErrors, err := meter.Int64Counter(
		"querycache.embedding.errors",
		metric.WithDescription("Failed embedding calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	return &metricsImpl{
		lookups:       lookups,
		lookupLatency: lookupLatency,
		stores:        stores,
		evictions:     evictions,
		embedDuration: embedDuration,
		embedErrors:   embedErrors,
	}, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, result string, d time.Duration) {
	opt := metric.WithAttributes(attribute.String("result", result))
	m.lookups.Add(ctx, 1, opt)
	m.lookupLatency.Record(ctx, durationMs(d), opt)
}

func (m *metricsImpl) RecordStore(ctx context.Context, outcome string) {
	m.stores.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metricsImpl) RecordEvictions(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.evictions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metricsImpl) RecordEmbedding(ctx context.Context, d time.Duration, texts int, err error) {
	m.embedDuration.Record(ctx, durationMs(d), metric.WithAttributes(attribute.Int("texts", texts)))
	if err != nil {
		m.embedErrors.Add(ctx, 1)
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// NoopMetrics returns a Metrics that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) RecordLookup(context.Context, string, time.Duration)        {}
func (noopMetrics) RecordStore(context.Context, string)                        {}
func (noopMetrics) RecordEvictions(context.Context, string, int)               {}
func (noopMetrics) RecordEmbedding(context.Context, time.Duration, int, error) {}
