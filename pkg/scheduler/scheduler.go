// Package scheduler admits catalog fetches into a bounded dispatch queue.
//
// A Scheduler runs at most MaxConcurrent fetches at once. Admission
// short-circuits on cache hits, joins fetches already on the network (across
// every scheduler sharing a Registry) and folds repeated submissions of a
// queued query into one Task. Dispatch is deferred while the shared
// rate-limit governor is cooling down; rate-limited fetches are retried with
// exponential backoff and requeued, never dropped, once retries run out.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/cache"
	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/Sternrassler/storefront-prefetch/pkg/ratelimit"
	"github.com/rs/zerolog"
)

var (
	// ErrRetryExhausted is returned by a dispatch whose rate-limit retries
	// ran out. The scheduler requeues such tasks instead of settling them.
	ErrRetryExhausted = errors.New("rate limit retries exhausted")

	// ErrClosed settles tasks that were pending when the scheduler closed.
	ErrClosed = errors.New("scheduler closed")
)

// Default concurrency budgets.
const (
	DefaultHoverConcurrency      = 4
	DefaultBackgroundConcurrency = 30
)

// FetchFunc performs a single catalog request.
type FetchFunc func(ctx context.Context, q catalog.FilterQuery) (*catalog.Result, error)

// Config holds the scheduler configuration.
type Config struct {
	// Name labels logs and metrics ("hover", "background").
	Name string

	// MaxConcurrent bounds the number of dispatched tasks.
	MaxConcurrent int

	// Retry is the rate-limit retry policy.
	Retry RetryPolicy

	// Registry is the shared in-flight registry. Nil creates a private one.
	Registry *Registry
}

// DefaultConfig returns the default configuration for a foreground
// scheduler.
func DefaultConfig() Config {
	return Config{
		Name:          "hover",
		MaxConcurrent: DefaultHoverConcurrency,
		Retry:         DefaultRetryPolicy(),
	}
}

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	Name          string `json:"name"`
	Queued        int    `json:"queued"`
	Active        int    `json:"active"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// Scheduler is a bounded, rate-limit aware dispatch queue.
type Scheduler struct {
	config   Config
	fetch    FetchFunc
	results  *cache.ResultCache
	governor *ratelimit.Governor
	registry *Registry
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queue  []*Task
	queued map[string]*Task
	active int
	timer  *time.Timer
	closed bool
}

// New creates a scheduler.
func New(cfg Config, fetch FetchFunc, results *cache.ResultCache, governor *ratelimit.Governor, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max_concurrent must be > 0 (got %d)", cfg.MaxConcurrent)
	}
	if fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}
	if results == nil {
		return nil, fmt.Errorf("result cache is required")
	}
	if governor == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		config:   cfg,
		fetch:    fetch,
		results:  results,
		governor: governor,
		registry: cfg.Registry,
		logger:   logger.With().Str("scheduler", cfg.Name).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		queued:   make(map[string]*Task),
	}, nil
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string {
	return s.config.Name
}

// Submit admits q and returns the task that will carry its result.
//
// A cached query yields an already resolved task. A query on the network in
// any scheduler sharing the registry yields that in-flight task. A query
// already queued here yields the queued task, moved to the head of the queue
// when priority is high. Anything else is queued and the queue drained.
func (s *Scheduler) Submit(q catalog.FilterQuery, priority Priority) *Task {
	if result, ok := s.results.Peek(q); ok {
		submissionsTotal.WithLabelValues(s.config.Name, "cached").Inc()
		return resolvedTask(q, result)
	}

	fingerprint := q.Fingerprint()
	if t, ok := s.registry.Lookup(fingerprint); ok {
		submissionsTotal.WithLabelValues(s.config.Name, "in_flight").Inc()
		return t
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		submissionsTotal.WithLabelValues(s.config.Name, "closed").Inc()
		return rejectedTask(q, ErrClosed)
	}

	if t, ok := s.queued[fingerprint]; ok {
		if priority == PriorityHigh {
			t.priority = PriorityHigh
			s.moveToHead(t)
			submissionsTotal.WithLabelValues(s.config.Name, "promoted").Inc()
		} else {
			submissionsTotal.WithLabelValues(s.config.Name, "queued").Inc()
		}
		s.mu.Unlock()
		s.drain()
		return t
	}

	t := newTask(q, priority)
	s.enqueue(t)
	s.mu.Unlock()

	submissionsTotal.WithLabelValues(s.config.Name, "enqueued").Inc()
	s.logger.Debug().
		Str("fingerprint", fingerprint).
		Str("priority", priority.String()).
		Msg("Task queued")

	s.drain()
	return t
}

// enqueue adds t at the head (high priority) or tail. Caller holds s.mu.
func (s *Scheduler) enqueue(t *Task) {
	if t.priority == PriorityHigh {
		s.queue = append([]*Task{t}, s.queue...)
	} else {
		s.queue = append(s.queue, t)
	}
	s.queued[t.Fingerprint] = t
	queueDepth.WithLabelValues(s.config.Name).Set(float64(len(s.queue)))
}

// moveToHead moves a queued task to the head. Caller holds s.mu.
func (s *Scheduler) moveToHead(t *Task) {
	for i, queued := range s.queue {
		if queued == t {
			copy(s.queue[1:i+1], s.queue[:i])
			s.queue[0] = t
			return
		}
	}
}

// removeAt drops the task at index i. Caller holds s.mu.
func (s *Scheduler) removeAt(i int) *Task {
	t := s.queue[i]
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	delete(s.queued, t.Fingerprint)
	return t
}

// drain dispatches queued tasks while slots are free.
func (s *Scheduler) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	now := time.Now()
	var wakeAt time.Time
	defer func() {
		queueDepth.WithLabelValues(s.config.Name).Set(float64(len(s.queue)))
		activeDispatches.WithLabelValues(s.config.Name).Set(float64(s.active))
		if !wakeAt.IsZero() {
			s.wakeAfter(wakeAt.Sub(now))
		}
	}()

	cooldown := s.governor.CooldownRemaining()

	for i := 0; i < len(s.queue) && s.active < s.config.MaxConcurrent; {
		t := s.queue[i]

		if result, ok := s.results.Peek(t.Query); ok {
			s.removeAt(i)
			t.settle(result, nil)
			continue
		}

		if cooldown > 0 {
			deferralsTotal.WithLabelValues(s.config.Name, "cooldown").Inc()
			s.logger.Debug().
				Int("queued", len(s.queue)).
				Dur("cooldown_remaining", cooldown).
				Msg("Dispatch deferred - governor cooling down")
			wakeAt = now.Add(cooldown)
			return
		}

		if t.notBefore.After(now) {
			deferralsTotal.WithLabelValues(s.config.Name, "not_before").Inc()
			if wakeAt.IsZero() || t.notBefore.Before(wakeAt) {
				wakeAt = t.notBefore
			}
			i++
			continue
		}

		s.removeAt(i)

		if owner, claimed := s.registry.Claim(t); !claimed {
			s.follow(t, owner)
			continue
		}

		s.active++
		s.wg.Add(1)
		go s.run(t)
	}
}

// wakeAfter arms the drain timer. Caller holds s.mu.
func (s *Scheduler) wakeAfter(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.drain)
}

// follow settles t with the outcome of the task currently holding its
// fingerprint. Caller holds s.mu.
func (s *Scheduler) follow(t, owner *Task) {
	s.logger.Debug().
		Str("fingerprint", t.Fingerprint).
		Msg("Fingerprint already in flight - following")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-owner.Done():
			t.settle(owner.Result())
		case <-s.ctx.Done():
			t.settle(nil, ErrClosed)
		}
	}()
}

// run performs a dispatch and settles, requeues or rejects t.
func (s *Scheduler) run(t *Task) {
	defer s.wg.Done()
	start := time.Now()

	result, err := s.fetchWithRetry(s.ctx, t)
	dispatchDuration.WithLabelValues(s.config.Name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.results.Set(s.ctx, t.Query, result)
		s.registry.Release(t)
		t.settle(result, nil)
		dispatchesTotal.WithLabelValues(s.config.Name, "success").Inc()

	case s.ctx.Err() != nil:
		s.registry.Release(t)
		t.settle(nil, ErrClosed)
		dispatchesTotal.WithLabelValues(s.config.Name, "closed").Inc()

	case errors.Is(err, ratelimit.ErrCoolingDown):
		s.registry.Release(t)
		s.requeue(t, err)
		dispatchesTotal.WithLabelValues(s.config.Name, "deferred").Inc()

	case errors.Is(err, ErrRetryExhausted):
		s.registry.Release(t)
		s.requeue(t, err)
		dispatchesTotal.WithLabelValues(s.config.Name, "requeued").Inc()

	default:
		s.registry.Release(t)
		s.logger.Warn().
			Err(err).
			Str("fingerprint", t.Fingerprint).
			Str("class", string(catalog.ClassOf(err))).
			Msg("Fetch failed")
		t.settle(nil, err)
		dispatchesTotal.WithLabelValues(s.config.Name, "error").Inc()
	}

	s.mu.Lock()
	s.active--
	s.mu.Unlock()

	s.drain()
}

// requeue puts t back in the queue, not dispatchable before the governor's
// cooldown window closes. cause is ErrRetryExhausted or
// ratelimit.ErrCoolingDown; only the former counts as a requeue.
func (s *Scheduler) requeue(t *Task, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		t.settle(nil, ErrClosed)
		return
	}

	if existing, ok := s.queued[t.Fingerprint]; ok && existing != t {
		s.follow(t, existing)
		return
	}

	t.notBefore = s.governor.CooldownEndsAt()
	s.enqueue(t)

	if errors.Is(cause, ratelimit.ErrCoolingDown) {
		s.logger.Debug().
			Str("fingerprint", t.Fingerprint).
			Time("not_before", t.notBefore).
			Msg("Dispatch deferred - cooldown began while waiting for a slot")
		return
	}

	t.requeues++
	s.logger.Warn().
		Str("fingerprint", t.Fingerprint).
		Int("requeues", t.requeues).
		Time("not_before", t.notBefore).
		Msg("Task requeued after exhausted retries")
}

// Pending reports whether fingerprint is queued in this scheduler.
func (s *Scheduler) Pending(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queued[fingerprint]
	return ok
}

// InFlight reports whether fingerprint is on the network in any scheduler
// sharing this scheduler's registry.
func (s *Scheduler) InFlight(fingerprint string) bool {
	_, ok := s.registry.Lookup(fingerprint)
	return ok
}

// Stats returns a snapshot of the scheduler.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Name:          s.config.Name,
		Queued:        len(s.queue),
		Active:        s.active,
		MaxConcurrent: s.config.MaxConcurrent,
	}
}

// Close rejects queued tasks with ErrClosed, aborts in-flight fetches and
// waits for them to settle. Submissions after Close are rejected.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	pending := s.queue
	s.queue = nil
	s.queued = make(map[string]*Task)
	s.mu.Unlock()

	for _, t := range pending {
		t.settle(nil, ErrClosed)
	}

	s.cancel()
	s.wg.Wait()

	queueDepth.WithLabelValues(s.config.Name).Set(0)
	activeDispatches.WithLabelValues(s.config.Name).Set(0)
	s.logger.Info().Int("rejected", len(pending)).Msg("Scheduler closed")
}
