package observe

import (
	"context"
	"io"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func BenchmarkLogger_Info(b *testing.B) {
	logger := NewLoggerWithWriter("info", io.Discard)
	ctx := context.Background()
	fields := []Field{
		{Key: "key", Value: "0123456789abcdef"},
		{Key: "duration_ms", Value: 1.25},
		{Key: "api_key", Value: "secret"},
	}
	b.ReportAllocs()
	for b.Loop() {
		logger.Info(ctx, "cache hit", fields...)
	}
}

func BenchmarkLogger_DebugFiltered(b *testing.B) {
	logger := NewLoggerWithWriter("info", io.Discard)
	ctx := context.Background()
	for b.Loop() {
		logger.Debug(ctx, "dropped", Field{Key: "n", Value: 1})
	}
}

func BenchmarkMetrics_RecordLookup(b *testing.B) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := NewMetrics(mp.Meter("bench"))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		m.RecordLookup(ctx, ResultHit, time.Millisecond)
	}
}

func BenchmarkInstruments_Wrap(b *testing.B) {
	in := NopInstruments()
	ctx := context.Background()
	fn := func(context.Context) error { return nil }
	for b.Loop() {
		_ = in.Wrap(ctx, OpGet, fn)
	}
}
