package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracer(tp.Tracer("test")), rec
}

func TestOp_SpanName(t *testing.T) {
	tests := map[Op]string{
		OpGet:   "querycache.get",
		OpSet:   "querycache.set",
		OpEmbed: "querycache.embed",
	}
	for op, want := range tests {
		if got := op.SpanName(); got != want {
			t.Errorf("%s.SpanName() = %q, want %q", op, got, want)
		}
	}
}

func TestTracer_Success(t *testing.T) {
	tr, rec := newRecordingTracer()
	_, span := tr.StartSpan(context.Background(), OpGet, attribute.String("cache.key", "ab"))
	tr.EndSpan(span, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != "querycache.get" {
		t.Errorf("name = %q", s.Name())
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}
	attrs := map[attribute.Key]string{}
	for _, kv := range s.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	if attrs["cache.key"] != "ab" || attrs["cache.op"] != "get" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestTracer_Error(t *testing.T) {
	tr, rec := newRecordingTracer()
	_, span := tr.StartSpan(context.Background(), OpEmbed)
	tr.EndSpan(span, errors.New("embedding unavailable"))

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if len(s.Events()) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestNoopTracer(t *testing.T) {
	tr := NewTracer(nil)
	_, span := tr.StartSpan(context.Background(), OpSet)
	tr.EndSpan(span, nil)
}
