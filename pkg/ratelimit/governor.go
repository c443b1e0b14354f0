package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for governor decisions.
var (
	rateLimitSignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_signals_total",
		Help: "Total number of rate-limit signals received from the catalog backend",
	})

	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_governor_cooldowns_total",
		Help: "Total number of transitions from normal to cooldown",
	})

	inCooldown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_governor_in_cooldown",
		Help: "1 while the governor defers dispatch, 0 otherwise",
	})

	spacingWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_governor_spacing_wait_seconds",
		Help:    "Time dispatches waited to honor minimum request spacing",
		Buckets: []float64{0.05, 0.1, 0.3, 0.6, 1, 2, 5, 10},
	})
)

// ErrCoolingDown is returned by Acquire while the governor defers dispatch.
var ErrCoolingDown = errors.New("governor cooling down")

// Lane orders requests waiting for a dispatch slot.
type Lane int

const (
	// LaneBackground requests take slots no priority request is waiting for.
	LaneBackground Lane = iota

	// LanePriority requests take the next free slot.
	LanePriority
)

// String returns the lane name.
func (l Lane) String() string {
	if l == LanePriority {
		return "priority"
	}
	return "background"
}

type cooldownPolicy int

const (
	cooldownDefer cooldownPolicy = iota
	cooldownIgnore
	cooldownWait
)

// minYield bounds how often a yielding background request re-checks when
// spacing is disabled.
const minYield = 10 * time.Millisecond

// Config holds the governor configuration.
type Config struct {
	// Cooldown after the last rate-limit signal.
	Cooldown time.Duration

	// MinSpacing between any two dispatched requests. 0 disables spacing.
	MinSpacing time.Duration
}

// DefaultConfig returns the default governor configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown:   DefaultCooldown,
		MinSpacing: DefaultMinSpacing,
	}
}

// Governor is the process-wide rate-limit state machine. It is shared by
// every scheduler so that one overloaded response slows all traffic.
type Governor struct {
	config Config
	logger zerolog.Logger

	mu              sync.Mutex
	state           GovernorState
	priorityWaiting int
	changed         chan struct{}
	now             func() time.Time
}

// NewGovernor creates a new governor.
func NewGovernor(cfg Config, logger zerolog.Logger) *Governor {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	}
	return &Governor{
		config:  cfg,
		logger:  logger,
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Config returns the governor configuration.
func (g *Governor) Config() Config {
	return g.config
}

// RecordRateLimit moves the governor into cooldown and restarts the
// cooldown window.
func (g *Governor) RecordRateLimit() {
	g.mu.Lock()
	now := g.now()
	wasCooling := g.state.InCooldown
	g.state.LastErrorAt = &now
	g.state.InCooldown = true
	g.mu.Unlock()

	rateLimitSignalsTotal.Inc()
	if wasCooling {
		g.logger.Debug().
			Time("cooldown_ends_at", now.Add(g.config.Cooldown)).
			Msg("Rate limit signal extended cooldown")
		return
	}

	cooldownsTotal.Inc()
	inCooldown.Set(1)
	g.logger.Warn().
		Dur("cooldown", g.config.Cooldown).
		Msg("Catalog backend rate limited - entering cooldown")
}

// CooldownRemaining returns how long dispatch must still be deferred. When
// the window has elapsed the governor transitions back to normal here.
func (g *Governor) CooldownRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldownRemainingLocked()
}

func (g *Governor) cooldownRemainingLocked() time.Duration {
	if !g.state.InCooldown {
		return 0
	}

	remaining := g.state.cooldownRemaining(g.config.Cooldown, g.now())
	if remaining > 0 {
		return remaining
	}

	g.state.InCooldown = false
	inCooldown.Set(0)
	g.logger.Info().Msg("Cooldown elapsed - governor back to normal")
	return 0
}

// CooldownEndsAt returns when the current or last cooldown window closes.
func (g *Governor) CooldownEndsAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.CooldownEndsAt(g.config.Cooldown)
}

// Mode returns the current mode, applying the lazy cooldown transition.
func (g *Governor) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldownRemainingLocked()
	return g.state.Mode()
}

// State returns a snapshot of the governor state.
func (g *Governor) State() GovernorState {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.state
	if state.LastErrorAt != nil {
		at := *state.LastErrorAt
		state.LastErrorAt = &at
	}
	return state
}

// TryAcquire claims a dispatch slot if one is free now. It returns
// ErrCoolingDown during cooldown, or how long to wait before asking again.
func (g *Governor) TryAcquire(lane Lane) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tryAcquireLocked(lane, cooldownDefer)
}

func (g *Governor) tryAcquireLocked(lane Lane, policy cooldownPolicy) (time.Duration, error) {
	if policy != cooldownIgnore {
		if remaining := g.cooldownRemainingLocked(); remaining > 0 {
			if policy == cooldownDefer {
				return 0, ErrCoolingDown
			}
			return remaining, nil
		}
	}

	now := g.now()
	if !g.state.LastRequestAt.IsZero() {
		if next := g.state.LastRequestAt.Add(g.config.MinSpacing); next.After(now) {
			return next.Sub(now), nil
		}
	}

	// Background requests yield every free slot to waiting priority requests.
	if lane == LaneBackground && g.priorityWaiting > 0 {
		return max(g.config.MinSpacing, minYield), nil
	}

	g.state.LastRequestAt = now
	g.notifyLocked()
	return 0, nil
}

// notifyLocked wakes every blocked acquirer. Caller holds g.mu.
func (g *Governor) notifyLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Acquire blocks until a dispatch slot is granted in lane. Slots are spaced
// by MinSpacing; a priority request takes the next free slot ahead of every
// waiting background request. Slots are never booked ahead of time, so a
// backlog of background requests delays a priority request by at most one
// spacing interval. Acquire returns ErrCoolingDown if the governor is
// cooling down when the slot would be granted.
func (g *Governor) Acquire(ctx context.Context, lane Lane) error {
	return g.acquire(ctx, lane, cooldownDefer)
}

// AcquireRetry is Acquire for a retry of a request already dispatched: it
// honors spacing and lanes but not the cooldown.
func (g *Governor) AcquireRetry(ctx context.Context, lane Lane) error {
	return g.acquire(ctx, lane, cooldownIgnore)
}

// Wait blocks until the cooldown has elapsed and a background slot is
// granted.
func (g *Governor) Wait(ctx context.Context) error {
	return g.acquire(ctx, LaneBackground, cooldownWait)
}

func (g *Governor) acquire(ctx context.Context, lane Lane, policy cooldownPolicy) error {
	start := time.Now()

	if lane == LanePriority {
		g.mu.Lock()
		g.priorityWaiting++
		g.mu.Unlock()

		defer func() {
			g.mu.Lock()
			g.priorityWaiting--
			g.notifyLocked()
			g.mu.Unlock()
		}()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.mu.Lock()
		wait, err := g.tryAcquireLocked(lane, policy)
		changed := g.changed
		g.mu.Unlock()

		if err != nil {
			return err
		}
		if wait <= 0 {
			spacingWaitSeconds.Observe(time.Since(start).Seconds())
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// SetClock overrides the time source (for testing).
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}
