package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	var calls int
	var retries []int
	r := NewRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry:      func(attempt int, err error, d time.Duration) { retries = append(retries, attempt) },
	})
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errEmbed
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if calls != 3 || len(retries) != 2 {
		t.Errorf("calls = %d retries = %v", calls, retries)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})
	err := r.Execute(context.Background(), fail)
	if !errors.Is(err, ErrMaxRetriesExceeded) || !errors.Is(err, errEmbed) {
		t.Errorf("err = %v, want both ErrMaxRetriesExceeded and the last error", err)
	}
}

func TestRetry_SingleAttemptReturnsRawError(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 1})
	if err := r.Execute(context.Background(), fail); err != errEmbed {
		t.Errorf("err = %v, want the raw error", err)
	}
}

func TestRetry_RetryIfStops(t *testing.T) {
	var calls int
	r := NewRetry(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryIf:      func(err error) bool { return !errors.Is(err, context.Canceled) },
	})
	_ = r.Execute(context.Background(), func(context.Context) error {
		calls++
		return context.Canceled
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Hour,
		OnRetry:      func(int, error, time.Duration) { cancel() },
	})
	if err := r.Execute(ctx, fail); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetry_Delay(t *testing.T) {
	exp := NewRetry(RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
		{80, time.Second},
	}
	for _, tt := range tests {
		if got := exp.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	constant := NewRetry(RetryConfig{InitialDelay: 50 * time.Millisecond, Strategy: BackoffConstant})
	if got := constant.Delay(4); got != 50*time.Millisecond {
		t.Errorf("constant Delay(4) = %v", got)
	}

	jittered := NewRetry(RetryConfig{InitialDelay: 100 * time.Millisecond, Jitter: true})
	for i := 0; i < 20; i++ {
		d := jittered.Delay(1)
		if d < 100*time.Millisecond || d >= 125*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms,125ms)", d)
		}
	}
}
