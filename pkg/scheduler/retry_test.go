package scheduler

import (
	"testing"
	"time"
)

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", policy.MaxRetries)
	}
	if policy.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", policy.InitialBackoff)
	}
	if policy.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", policy.MaxBackoff)
	}
	if policy.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", policy.Multiplier)
	}
	if policy.Jitter != 0 {
		t.Errorf("Jitter = %v, want 0", policy.Jitter)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.Backoff(tt.retry); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestRetryPolicy_BackoffJitter(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Jitter = 0.2

	for i := 0; i < 100; i++ {
		got := policy.Backoff(2)
		if got < 1600*time.Millisecond || got > 2400*time.Millisecond {
			t.Fatalf("Backoff(2) = %v, want within ±20%% of 2s", got)
		}
	}

	for i := 0; i < 100; i++ {
		if got := policy.Backoff(6); got > 10*time.Second {
			t.Fatalf("Backoff(6) = %v, must not exceed MaxBackoff", got)
		}
	}
}
