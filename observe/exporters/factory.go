// Package exporters builds OpenTelemetry span exporters and metric readers
// by name.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrUnknownExporter is returned for an exporter name with no factory.
var ErrUnknownExporter = errors.New("unknown exporter")

// ErrEndpointNotConfigured is returned when an OTLP exporter is requested
// without an endpoint in the environment.
var ErrEndpointNotConfigured = errors.New("endpoint not configured")

// Stdout is where the stdout exporters write. Tests may replace it.
var Stdout io.Writer = os.Stdout

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// NewTracingExporter returns the span exporter registered under name:
// stdout, otlp, jaeger (OTLP to a Jaeger collector) or none.
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "", "none":
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(Stdout))
	case "otlp":
		if firstEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
			return nil, fmt.Errorf("otlp traces: %w (set OTEL_EXPORTER_OTLP_ENDPOINT)", ErrEndpointNotConfigured)
		}
		return otlptracegrpc.New(ctx)
	case "jaeger":
		ep := firstEnv("OTEL_EXPORTER_JAEGER_ENDPOINT")
		if ep == "" {
			return nil, fmt.Errorf("jaeger: %w (set OTEL_EXPORTER_JAEGER_ENDPOINT)", ErrEndpointNotConfigured)
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(ep), otlptracegrpc.WithInsecure())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

// NewMetricsReader returns the metric reader registered under name:
// stdout, otlp, prometheus or none. The prometheus reader registers with
// the default Prometheus registerer, so promhttp.Handler serves it.
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	switch name {
	case "", "none":
		return sdkmetric.NewManualReader(), nil
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(Stdout))
		if err != nil {
			return nil, fmt.Errorf("stdout metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "otlp":
		if firstEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") == "" {
			return nil, fmt.Errorf("otlp metrics: %w (set OTEL_EXPORTER_OTLP_ENDPOINT)", ErrEndpointNotConfigured)
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("otlp metrics: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}
