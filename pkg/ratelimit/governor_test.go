package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGovernor(cfg Config) (*Governor, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGovernor(cfg, zerolog.Nop())
	g.SetClock(clock.Now)
	return g, clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Cooldown != 2*time.Second {
		t.Errorf("Cooldown = %v, want 2s", cfg.Cooldown)
	}
	if cfg.MinSpacing != 300*time.Millisecond {
		t.Errorf("MinSpacing = %v, want 300ms", cfg.MinSpacing)
	}
}

func TestGovernor_CooldownLifecycle(t *testing.T) {
	g, clock := newTestGovernor(DefaultConfig())

	if g.Mode() != ModeNormal {
		t.Fatalf("initial Mode() = %v, want normal", g.Mode())
	}
	if g.CooldownRemaining() != 0 {
		t.Fatal("no cooldown expected before any signal")
	}

	g.RecordRateLimit()
	if g.Mode() != ModeCooldown {
		t.Fatalf("Mode() after signal = %v, want cooldown", g.Mode())
	}
	if got := g.CooldownRemaining(); got != 2*time.Second {
		t.Errorf("CooldownRemaining() = %v, want 2s", got)
	}

	clock.Advance(1500 * time.Millisecond)
	if got := g.CooldownRemaining(); got != 500*time.Millisecond {
		t.Errorf("CooldownRemaining() = %v, want 500ms", got)
	}

	clock.Advance(500 * time.Millisecond)
	if got := g.CooldownRemaining(); got != 0 {
		t.Errorf("CooldownRemaining() at boundary = %v, want 0", got)
	}
	if g.Mode() != ModeNormal {
		t.Errorf("Mode() after window = %v, want normal", g.Mode())
	}
	if g.State().LastErrorAt == nil {
		t.Error("LastErrorAt should be kept after returning to normal")
	}
}

func TestGovernor_RepeatedSignalRestartsWindow(t *testing.T) {
	g, clock := newTestGovernor(DefaultConfig())

	g.RecordRateLimit()
	clock.Advance(1500 * time.Millisecond)
	g.RecordRateLimit()
	clock.Advance(1500 * time.Millisecond)

	if got := g.CooldownRemaining(); got != 500*time.Millisecond {
		t.Errorf("CooldownRemaining() = %v, want 500ms measured from last signal", got)
	}

	want := clock.Now().Add(500 * time.Millisecond)
	if got := g.CooldownEndsAt(); !got.Equal(want) {
		t.Errorf("CooldownEndsAt() = %v, want %v", got, want)
	}
}

func TestGovernor_TryAcquire(t *testing.T) {
	tests := []struct {
		name    string
		spacing time.Duration
		gaps    []time.Duration // clock advance before each attempt
		want    []time.Duration
	}{
		{
			name:    "first request immediate",
			spacing: 300 * time.Millisecond,
			gaps:    []time.Duration{0},
			want:    []time.Duration{0},
		},
		{
			name:    "second request waits for spacing",
			spacing: 300 * time.Millisecond,
			gaps:    []time.Duration{0, 0},
			want:    []time.Duration{0, 300 * time.Millisecond},
		},
		{
			name:    "refused attempts do not book slots",
			spacing: 300 * time.Millisecond,
			gaps:    []time.Duration{0, 0, 0},
			want:    []time.Duration{0, 300 * time.Millisecond, 300 * time.Millisecond},
		},
		{
			name:    "partially elapsed gap",
			spacing: 300 * time.Millisecond,
			gaps:    []time.Duration{0, 100 * time.Millisecond},
			want:    []time.Duration{0, 200 * time.Millisecond},
		},
		{
			name:    "fully elapsed gap",
			spacing: 300 * time.Millisecond,
			gaps:    []time.Duration{0, time.Second, 300 * time.Millisecond},
			want:    []time.Duration{0, 0, 0},
		},
		{
			name:    "spacing disabled",
			spacing: 0,
			gaps:    []time.Duration{0, 0, 0},
			want:    []time.Duration{0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, clock := newTestGovernor(Config{Cooldown: time.Second, MinSpacing: tt.spacing})

			for i, gap := range tt.gaps {
				clock.Advance(gap)
				got, err := g.TryAcquire(LaneBackground)
				if err != nil {
					t.Fatalf("TryAcquire() #%d error = %v", i, err)
				}
				if got != tt.want[i] {
					t.Errorf("TryAcquire() #%d = %v, want %v", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestGovernor_TryAcquireDuringCooldown(t *testing.T) {
	g, clock := newTestGovernor(Config{Cooldown: 2 * time.Second, MinSpacing: 300 * time.Millisecond})

	g.RecordRateLimit()
	for _, lane := range []Lane{LaneBackground, LanePriority} {
		if _, err := g.TryAcquire(lane); !errors.Is(err, ErrCoolingDown) {
			t.Errorf("TryAcquire(%s) error = %v, want ErrCoolingDown", lane, err)
		}
	}

	clock.Advance(2 * time.Second)
	if wait, err := g.TryAcquire(LaneBackground); err != nil || wait != 0 {
		t.Errorf("TryAcquire() after cooldown = %v, %v, want 0, nil", wait, err)
	}
}

func TestGovernor_BackgroundYieldsToPriority(t *testing.T) {
	tests := []struct {
		name     string
		lane     Lane
		spacing  time.Duration
		wantWait time.Duration
	}{
		{"background yields a spacing interval", LaneBackground, 300 * time.Millisecond, 300 * time.Millisecond},
		{"background yields without spacing", LaneBackground, 0, minYield},
		{"priority is granted", LanePriority, 300 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGovernor(Config{Cooldown: time.Second, MinSpacing: tt.spacing})
			g.priorityWaiting = 1

			got, err := g.TryAcquire(tt.lane)
			if err != nil {
				t.Fatalf("TryAcquire() error = %v", err)
			}
			if got != tt.wantWait {
				t.Errorf("TryAcquire(%s) = %v, want %v", tt.lane, got, tt.wantWait)
			}
		})
	}
}

func TestGovernor_AcquireSpacing(t *testing.T) {
	g := NewGovernor(Config{Cooldown: time.Second, MinSpacing: 50 * time.Millisecond}, zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx, LaneBackground); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("three spaced acquisitions took %v, want >= 100ms", elapsed)
	}
}

func TestGovernor_AcquireCooldownDuringSpacingWait(t *testing.T) {
	g := NewGovernor(Config{Cooldown: time.Second, MinSpacing: 100 * time.Millisecond}, zerolog.Nop())
	ctx := context.Background()

	if err := g.Acquire(ctx, LaneBackground); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- g.Acquire(ctx, LaneBackground) }()

	// The waiter is still sleeping off its spacing when the signal arrives.
	time.Sleep(20 * time.Millisecond)
	g.RecordRateLimit()

	if err := <-errCh; !errors.Is(err, ErrCoolingDown) {
		t.Errorf("Acquire() error = %v, want ErrCoolingDown", err)
	}
}

func TestGovernor_AcquireRetryIgnoresCooldown(t *testing.T) {
	g := NewGovernor(Config{Cooldown: time.Hour}, zerolog.Nop())
	g.RecordRateLimit()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := g.AcquireRetry(ctx, LaneBackground); err != nil {
		t.Errorf("AcquireRetry() error = %v, want nil", err)
	}
}

func TestGovernor_PriorityLaneOvertakesBacklog(t *testing.T) {
	const spacing = 50 * time.Millisecond
	g := NewGovernor(Config{Cooldown: time.Second, MinSpacing: spacing}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Acquire(ctx, LaneBackground)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	if err := g.Acquire(ctx, LanePriority); err != nil {
		t.Fatalf("Acquire(priority) error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*spacing {
		t.Errorf("priority acquisition took %v behind a background backlog, want <= %v", elapsed, 2*spacing)
	}

	cancel()
	wg.Wait()
}

func TestGovernor_WaitOutlastsCooldown(t *testing.T) {
	g := NewGovernor(Config{Cooldown: 80 * time.Millisecond}, zerolog.Nop())
	g.RecordRateLimit()

	start := time.Now()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("Wait() returned after %v, want the cooldown to elapse first", elapsed)
	}
	if g.Mode() != ModeNormal {
		t.Errorf("Mode() = %v, want normal", g.Mode())
	}
}

func TestGovernor_AcquireCancelled(t *testing.T) {
	g := NewGovernor(Config{MinSpacing: time.Hour}, zerolog.Nop())

	if err := g.Acquire(context.Background(), LaneBackground); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.Acquire(ctx, LanePriority); err != context.DeadlineExceeded {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewGovernor_NegativeConfig(t *testing.T) {
	g := NewGovernor(Config{Cooldown: -time.Second, MinSpacing: -time.Second}, zerolog.Nop())

	cfg := g.Config()
	if cfg.Cooldown != 0 || cfg.MinSpacing != 0 {
		t.Errorf("Config() = %+v, negative durations should clamp to 0", cfg)
	}
}
