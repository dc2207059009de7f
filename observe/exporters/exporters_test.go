package exporters

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestNewTracingExporter(t *testing.T) {
	Stdout = io.Discard
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{name: "none"},
		{name: ""},
		{name: "stdout"},
		{name: "otlp", env: map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://localhost:4317"}},
		{name: "otlp", wantErr: ErrEndpointNotConfigured},
		{name: "jaeger", wantErr: ErrEndpointNotConfigured},
		{name: "jaeger", env: map[string]string{"OTEL_EXPORTER_JAEGER_ENDPOINT": "localhost:4317"}},
		{name: "zipkin", wantErr: ErrUnknownExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
			t.Setenv("OTEL_EXPORTER_JAEGER_ENDPOINT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			exp, err := NewTracingExporter(context.Background(), tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTracingExporter(%q) failed: %v", tt.name, err)
			}
			if exp == nil {
				t.Fatal("expected non-nil exporter")
			}
			_ = exp.Shutdown(context.Background())
		})
	}
}

func TestNewMetricsReader(t *testing.T) {
	Stdout = io.Discard
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{name: "none"},
		{name: "stdout"},
		{name: "prometheus"},
		{name: "otlp", wantErr: ErrEndpointNotConfigured},
		{name: "otlp", env: map[string]string{"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT": "http://localhost:4317"}},
		{name: "statsd", wantErr: ErrUnknownExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			r, err := NewMetricsReader(context.Background(), tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewMetricsReader(%q) failed: %v", tt.name, err)
			}
			if r == nil {
				t.Fatal("expected non-nil reader")
			}
		})
	}
}
