package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_FailFast(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := rl.Execute(ctx, succeed); err != nil {
			t.Fatalf("call %d within burst failed: %v", i, err)
		}
	}
	if err := rl.Execute(ctx, succeed); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("err = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRateLimiter_WaitOnLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 50, Burst: 1, WaitOnLimit: true, MaxWait: time.Second})
	ctx := context.Background()
	_ = rl.Execute(ctx, succeed)

	start := time.Now()
	if err := rl.Execute(ctx, succeed); err != nil {
		t.Fatalf("waiting call failed: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("second call should have waited for a token")
	}
}

func TestRateLimiter_WaitExceedsMax(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1, WaitOnLimit: true, MaxWait: 10 * time.Millisecond})
	ctx := context.Background()
	_ = rl.Execute(ctx, succeed)
	if err := rl.Execute(ctx, succeed); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("err = %v, want ErrRateLimitExceeded", err)
	}
	if rl.Tokens() < -0.01 {
		t.Errorf("a rejected wait must return its reservation, tokens = %f", rl.Tokens())
	}
}

func TestRateLimiter_WaitCanceled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, WaitOnLimit: true, MaxWait: 5 * time.Second})
	_ = rl.Execute(context.Background(), succeed)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Execute(ctx, succeed); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}
