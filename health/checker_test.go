package health

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestStatus_Worse(t *testing.T) {
	if got := StatusHealthy.Worse(StatusDegraded); got != StatusDegraded {
		t.Errorf("healthy.Worse(degraded) = %s", got)
	}
	if got := StatusUnhealthy.Worse(StatusDegraded); got != StatusUnhealthy {
		t.Errorf("unhealthy.Worse(degraded) = %s", got)
	}
}

func TestStatus_MarshalText(t *testing.T) {
	b, err := json.Marshal(StatusDegraded)
	if err != nil || string(b) != `"degraded"` {
		t.Errorf("Marshal = %s, %v", b, err)
	}
}

func TestUnhealthy_DefaultsError(t *testing.T) {
	r := Unhealthy("down", nil)
	if !errors.Is(r.Error, ErrCheckFailed) {
		t.Errorf("Error = %v, want ErrCheckFailed", r.Error)
	}
	if r.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestCheckerFunc(t *testing.T) {
	c := NewCheckerFunc("store", func(context.Context) Result {
		return Degraded("slow").WithDetails(map[string]any{"latency_ms": 900})
	})
	if c.Name() != "store" {
		t.Errorf("Name() = %q", c.Name())
	}
	r := c.Check(context.Background())
	if r.Status != StatusDegraded || r.Details["latency_ms"] != 900 {
		t.Errorf("Check() = %+v", r)
	}
}
