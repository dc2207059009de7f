package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Instruments bundles the tracer, metrics and logger a cache component
// records with. The zero value is not usable; use NewInstruments or
// NopInstruments.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: errors from wrapped functions are recorded and returned unchanged.
type Instruments struct {
	Tracer  Tracer
	Metrics Metrics
	Logger  Logger
}

// NewInstruments derives Instruments from an Observer.
func NewInstruments(obs Observer) (*Instruments, error) {
	if obs == nil {
		return NopInstruments(), nil
	}
	m, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return &Instruments{
		Tracer:  NewTracer(obs.Tracer()),
		Metrics: m,
		Logger:  obs.Logger(),
	}, nil
}

// NopInstruments records nothing.
func NopInstruments() *Instruments {
	return &Instruments{Tracer: NoopTracer(), Metrics: NoopMetrics(), Logger: NopLogger()}
}

// Wrap runs fn inside a span named for op. Failures are logged at warn
// with the elapsed time; successes at debug.
func (in *Instruments) Wrap(ctx context.Context, op Op, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := in.Tracer.StartSpan(ctx, op, attrs...)
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	in.Tracer.EndSpan(span, err)

	fields := []Field{
		{Key: "op", Value: string(op)},
		{Key: "duration_ms", Value: durationMs(elapsed)},
	}
	if err != nil {
		in.Logger.Warn(ctx, "cache operation failed", append(fields, Err(err))...)
	} else {
		in.Logger.Debug(ctx, "cache operation completed", fields...)
	}
	return err
}
