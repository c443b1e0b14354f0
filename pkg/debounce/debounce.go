// Package debounce collapses bursts of keyed triggers into a single call.
//
// Each key owns at most one pending timer. Triggering a key again within the
// window stops the previous timer and starts a new one, so only the last
// trigger's function runs. Cancel clears a pending timer without running it.
package debounce

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for debounce decisions.
var (
	triggersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_debounce_triggers_total",
		Help: "Total number of debounced triggers",
	})

	supersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_debounce_superseded_total",
		Help: "Triggers discarded because a later trigger for the same key arrived within the window",
	})

	firedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_debounce_fired_total",
		Help: "Debounced functions that ran",
	})

	cancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_debounce_cancelled_total",
		Help: "Pending triggers cleared by Cancel or Stop",
	})
)

type entry struct {
	timer *time.Timer
	token uint64
}

// Debouncer runs the last function triggered for a key once the key has been
// quiet for the trigger's delay.
type Debouncer struct {
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]entry
	seq     uint64
	stopped bool
}

// New creates a debouncer.
func New(logger zerolog.Logger) *Debouncer {
	return &Debouncer{
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Trigger starts or restarts the timer for key. When it fires, fn runs on its
// own goroutine. A non-positive delay runs fn immediately, discarding any
// pending trigger for key.
func (d *Debouncer) Trigger(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	triggersTotal.Inc()
	if prev, ok := d.entries[key]; ok {
		prev.timer.Stop()
		delete(d.entries, key)
		supersededTotal.Inc()
	}

	if delay <= 0 {
		d.mu.Unlock()
		firedTotal.Inc()
		go fn()
		return
	}

	d.seq++
	token := d.seq
	d.entries[key] = entry{
		token: token,
		timer: time.AfterFunc(delay, func() {
			d.fire(key, token, fn)
		}),
	}
	d.mu.Unlock()

	d.logger.Debug().
		Str("key", key).
		Dur("delay", delay).
		Msg("Debounce armed")
}

// fire runs fn if its token still owns key. A timer stopped too late to
// prevent its callback finds a newer token and does nothing.
func (d *Debouncer) fire(key string, token uint64, fn func()) {
	d.mu.Lock()
	current, ok := d.entries[key]
	if !ok || current.token != token {
		d.mu.Unlock()
		return
	}
	delete(d.entries, key)
	d.mu.Unlock()

	firedTotal.Inc()
	d.logger.Debug().Str("key", key).Msg("Debounce fired")
	fn()
}

// Cancel clears the pending trigger for key. It reports whether one was
// pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.entries[key]
	if !ok {
		return false
	}
	current.timer.Stop()
	delete(d.entries, key)
	cancelledTotal.Inc()
	return true
}

// Pending reports whether key has an armed timer.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[key]
	return ok
}

// Len returns the number of pending keys.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stop cancels every pending trigger. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, current := range d.entries {
		current.timer.Stop()
		delete(d.entries, key)
		cancelledTotal.Inc()
	}
	d.stopped = true
}
