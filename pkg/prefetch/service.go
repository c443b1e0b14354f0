// Package prefetch is the UI-facing facade of the storefront prefetch layer.
//
// A Service owns the result cache, the rate-limit governor, the hover and
// background schedulers, the debouncer and the hierarchical preloader, and
// exposes get-or-fetch, prefetch, debounced prefetch, cancellation and cache
// invalidation. Prefetch paths never surface errors; GetOrFetch is the only
// catalog operation that returns one.
package prefetch

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/cache"
	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/Sternrassler/storefront-prefetch/pkg/debounce"
	"github.com/Sternrassler/storefront-prefetch/pkg/logging"
	"github.com/Sternrassler/storefront-prefetch/pkg/preload"
	"github.com/Sternrassler/storefront-prefetch/pkg/ratelimit"
	"github.com/Sternrassler/storefront-prefetch/pkg/scheduler"
	"github.com/rs/zerolog"
)

// CatalogAPI is the slice of the catalog backend the service depends on.
// *catalog.Client implements it.
type CatalogAPI interface {
	preload.DirectoryAPI
	Products(ctx context.Context, q catalog.FilterQuery) (*catalog.Result, error)
}

// Config holds the service configuration.
type Config struct {
	// Cache configures the result cache (TTL, size, optional shared store).
	Cache cache.Config

	// Governor configures cooldown and request spacing.
	Governor ratelimit.Config

	// Retry is the rate-limit retry policy of both schedulers.
	Retry scheduler.RetryPolicy

	// HoverConcurrency bounds latency-sensitive prefetches.
	HoverConcurrency int

	// BackgroundConcurrency bounds the preloader sweep.
	BackgroundConcurrency int

	// DebounceDelay is used by PrefetchDebounced when no delay is given.
	DebounceDelay time.Duration

	// Preload configures the hierarchical preloader.
	Preload preload.Config
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Cache:                 cache.DefaultConfig(),
		Governor:              ratelimit.DefaultConfig(),
		Retry:                 scheduler.DefaultRetryPolicy(),
		HoverConcurrency:      scheduler.DefaultHoverConcurrency,
		BackgroundConcurrency: scheduler.DefaultBackgroundConcurrency,
		DebounceDelay:         200 * time.Millisecond,
		Preload:               preload.DefaultConfig(),
	}
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Hover        scheduler.Stats `json:"hover"`
	Background   scheduler.Stats `json:"background"`
	Governor     ratelimit.Mode  `json:"governor"`
	CacheEntries int             `json:"cache_entries"`
	Claims       int             `json:"claims"`
	Debouncing   int             `json:"debouncing"`
}

// Service coordinates prefetching for one storefront session or process.
type Service struct {
	config Config
	api    CatalogAPI
	logger zerolog.Logger

	results     *cache.ResultCache
	governor    *ratelimit.Governor
	hover       *scheduler.Scheduler
	background  *scheduler.Scheduler
	debouncer   *debounce.Debouncer
	coordinator *Coordinator
	menus       *preload.MenuDirectory
	preloader   *preload.Preloader
}

// New creates a prefetch service.
func New(cfg Config, api CatalogAPI, logger zerolog.Logger) (*Service, error) {
	if api == nil {
		return nil, fmt.Errorf("catalog api is required")
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}

	results, err := cache.NewResultCache(cfg.Cache, logging.Component(logger, "result-cache"))
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	governor := ratelimit.NewGovernor(cfg.Governor, logging.Component(logger, "governor"))
	registry := scheduler.NewRegistry()
	schedLogger := logging.Component(logger, "scheduler")

	hover, err := scheduler.New(scheduler.Config{
		Name:          "hover",
		MaxConcurrent: cfg.HoverConcurrency,
		Retry:         cfg.Retry,
		Registry:      registry,
	}, api.Products, results, governor, schedLogger)
	if err != nil {
		return nil, fmt.Errorf("create hover scheduler: %w", err)
	}

	background, err := scheduler.New(scheduler.Config{
		Name:          "background",
		MaxConcurrent: cfg.BackgroundConcurrency,
		Retry:         cfg.Retry,
		Registry:      registry,
	}, api.Products, results, governor, schedLogger)
	if err != nil {
		hover.Close()
		return nil, fmt.Errorf("create background scheduler: %w", err)
	}

	directory, err := preload.NewGovernedLister(api, governor)
	if err != nil {
		hover.Close()
		background.Close()
		return nil, fmt.Errorf("create directory lister: %w", err)
	}

	coordinator := NewCoordinator(results, hover)
	preloadLogger := logging.Component(logger, "preloader")
	menus := preload.NewMenuDirectory(directory, cfg.Preload.FanOut, preloadLogger)

	preloader, err := preload.New(cfg.Preload, menus, directory, coordinator, background, preloadLogger)
	if err != nil {
		hover.Close()
		background.Close()
		return nil, fmt.Errorf("create preloader: %w", err)
	}

	return &Service{
		config:      cfg,
		api:         api,
		logger:      logging.Component(logger, "prefetch"),
		results:     results,
		governor:    governor,
		hover:       hover,
		background:  background,
		debouncer:   debounce.New(logging.Component(logger, "debounce")),
		coordinator: coordinator,
		menus:       menus,
		preloader:   preloader,
	}, nil
}

// GetOrFetch returns the cached result for q, or fetches it with hover
// priority and waits. Abandoning the wait via ctx does not cancel the fetch;
// its result is still cached.
func (s *Service) GetOrFetch(ctx context.Context, q catalog.FilterQuery) (*catalog.Result, error) {
	if result, ok := s.results.Get(ctx, q); ok {
		return result, nil
	}

	result, err := s.hover.Submit(q, scheduler.PriorityHigh).Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", q.Fingerprint(), err)
	}
	return result, nil
}

// Prefetch submits q with hover priority and no delay. The returned task may
// be awaited; failures are logged and otherwise discarded.
func (s *Service) Prefetch(q catalog.FilterQuery) *scheduler.Task {
	fingerprint := q.Fingerprint()
	s.coordinator.Claim(fingerprint)

	t := s.hover.Submit(q, scheduler.PriorityHigh)
	s.coordinator.releaseOnSettle(t)

	if !t.Settled() {
		go s.discardFailure(t)
	}
	return t
}

func (s *Service) discardFailure(t *scheduler.Task) {
	<-t.Done()
	if _, err := t.Result(); err != nil {
		s.logger.Debug().
			Err(err).
			Str("fingerprint", t.Fingerprint).
			Msg("Prefetch discarded")
	}
}

// PrefetchDebounced schedules a hover prefetch of q after delay. Repeated
// calls for the same fingerprint within the window restart it; only the last
// one is dispatched. A non-positive delay uses the configured default.
func (s *Service) PrefetchDebounced(q catalog.FilterQuery, delay time.Duration) {
	if delay <= 0 {
		delay = s.config.DebounceDelay
	}

	fingerprint := q.Fingerprint()
	s.coordinator.Claim(fingerprint)
	s.debouncer.Trigger(fingerprint, delay, func() {
		s.Prefetch(q)
	})
}

// CancelPrefetch cancels a debounced prefetch of q that has not fired yet.
// A prefetch already queued or on the network is left to complete.
func (s *Service) CancelPrefetch(q catalog.FilterQuery) bool {
	fingerprint := q.Fingerprint()
	if !s.debouncer.Cancel(fingerprint) {
		return false
	}

	if !s.hover.Pending(fingerprint) && !s.hover.InFlight(fingerprint) {
		s.coordinator.Release(fingerprint)
	}
	s.logger.Debug().Str("fingerprint", fingerprint).Msg("Prefetch cancelled")
	return true
}

// InvalidateCache removes the entries selected by scope and returns the
// number of memory entries removed.
func (s *Service) InvalidateCache(ctx context.Context, scope Scope) int {
	removed := s.results.Invalidate(ctx, scope.match)
	s.logger.Info().
		Str("scope", scope.String()).
		Int("removed", removed).
		Msg("Cache invalidated")
	return removed
}

// Preload loads the menu directory and runs one preloader sweep. The sweep
// starts polling immediately and proceeds with partial menus once the
// preloader's timeout elapses.
func (s *Service) Preload(ctx context.Context) (preload.Report, error) {
	go func() {
		if err := s.menus.Load(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Menu directory failed to load")
		}
	}()

	return s.preloader.Run(ctx)
}

// Preloader returns the hierarchical preloader.
func (s *Service) Preloader() *preload.Preloader {
	return s.preloader
}

// Menus returns the menu directory the preloader waits on.
func (s *Service) Menus() *preload.MenuDirectory {
	return s.menus
}

// Coordinator returns the hover/background coordinator.
func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

// Cache returns the result cache.
func (s *Service) Cache() *cache.ResultCache {
	return s.results
}

// Stats returns a snapshot of the service.
func (s *Service) Stats() Stats {
	return Stats{
		Hover:        s.hover.Stats(),
		Background:   s.background.Stats(),
		Governor:     s.governor.Mode(),
		CacheEntries: s.results.Len(),
		Claims:       s.coordinator.Claims(),
		Debouncing:   s.debouncer.Len(),
	}
}

// Close stops pending debounces, rejects queued prefetches and aborts
// in-flight fetches.
func (s *Service) Close() {
	s.debouncer.Stop()
	s.hover.Close()
	s.background.Close()
	s.logger.Info().Msg("Prefetch service closed")
}
