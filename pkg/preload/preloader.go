// Package preload warms the result cache for the whole navigation tree.
//
// A Preloader waits (bounded) for the category menus to load, fetches every
// menu's submenus in parallel, and submits one background prefetch per
// {category}, {category, menu} and {category, menu, submenu} combination.
// A Gate decides per combination whether the prefetch is still worth
// issuing, so the sweep never duplicates hover-driven work.
package preload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/Sternrassler/storefront-prefetch/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for preload runs.
var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_preload_runs_total",
		Help: "Total number of preload runs",
	})

	menuWaitTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_preload_menu_wait_timeouts_total",
		Help: "Preload runs that proceeded with partial menus after the wait timeout",
	})

	combinationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_preload_combinations_total",
		Help: "Enumerated combinations by decision (submitted, skipped)",
	}, []string{"decision"})

	submenuFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_preload_submenu_failures_total",
		Help: "Submenu lists that failed to load during preload",
	})
)

// SubmenuLister loads the third level of the navigation tree.
type SubmenuLister interface {
	Submenus(ctx context.Context, category, menu string) ([]catalog.Submenu, error)
}

// Gate decides whether a background prefetch of q is still worth issuing.
type Gate interface {
	ShouldPrefetch(q catalog.FilterQuery) bool
}

// Submitter admits background prefetches.
type Submitter interface {
	Submit(q catalog.FilterQuery, priority scheduler.Priority) *scheduler.Task
}

// Config holds the preloader configuration.
type Config struct {
	// PollInterval between menu readiness checks.
	PollInterval time.Duration

	// Timeout after which the preloader proceeds with the categories whose
	// menus did load.
	Timeout time.Duration

	// FanOut bounds the parallel submenu fetches.
	FanOut FanOutConfig
}

// DefaultConfig returns the default preloader configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		Timeout:      10 * time.Second,
		FanOut:       DefaultFanOutConfig(),
	}
}

// Report summarizes a preload run.
type Report struct {
	Categories       int           `json:"categories"`
	LoadedCategories int           `json:"loaded_categories"`
	TimedOut         bool          `json:"timed_out"`
	Menus            int           `json:"menus"`
	SubmenuFailures  int           `json:"submenu_failures"`
	Combinations     int           `json:"combinations"`
	Submitted        int           `json:"submitted"`
	Skipped          int           `json:"skipped"`
	Duration         time.Duration `json:"duration"`
}

// Preloader runs hierarchical cache warm-up sweeps.
type Preloader struct {
	config    Config
	menus     MenuState
	submenus  SubmenuLister
	gate      Gate
	submitter Submitter
	logger    zerolog.Logger

	mu         sync.Mutex
	inProgress map[string]*scheduler.Task
}

// New creates a preloader.
func New(cfg Config, menus MenuState, submenus SubmenuLister, gate Gate, submitter Submitter, logger zerolog.Logger) (*Preloader, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0 (got %v)", cfg.PollInterval)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}
	if menus == nil || submenus == nil || gate == nil || submitter == nil {
		return nil, fmt.Errorf("menus, submenus, gate and submitter are required")
	}

	return &Preloader{
		config:     cfg,
		menus:      menus,
		submenus:   submenus,
		gate:       gate,
		submitter:  submitter,
		logger:     logger,
		inProgress: make(map[string]*scheduler.Task),
	}, nil
}

type menuRef struct {
	category string
	menu     string
}

// Run performs one sweep. It returns once every combination has been
// submitted or skipped; use Wait to block until the submitted prefetches
// settle. The only error returned is ctx's.
func (p *Preloader) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	runsTotal.Inc()

	var report Report
	categories, visible, timedOut, err := p.waitForMenus(ctx)
	if err != nil {
		return report, err
	}
	report.Categories = visible
	report.LoadedCategories = len(categories)
	report.TimedOut = timedOut

	if timedOut {
		menuWaitTimeoutsTotal.Inc()
		p.logger.Warn().
			Int("visible", visible).
			Int("loaded", len(categories)).
			Dur("timeout", p.config.Timeout).
			Msg("Menu wait timed out - preloading loaded categories only")
	}

	var refs []menuRef
	menusByCategory := make(map[string][]catalog.Menu, len(categories))
	for _, c := range categories {
		menus, _ := p.menus.Menus(c.Code)
		menusByCategory[c.Code] = menus
		for _, m := range menus {
			refs = append(refs, menuRef{category: c.Code, menu: m.ID})
		}
	}
	report.Menus = len(refs)

	outcomes := FanOut(ctx, p.config.FanOut, p.logger, refs,
		func(ctx context.Context, ref menuRef) ([]catalog.Submenu, error) {
			return p.submenus.Submenus(ctx, ref.category, ref.menu)
		})

	children := make(map[menuRef][]catalog.Submenu, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			report.SubmenuFailures++
			submenuFailuresTotal.Inc()
			p.logger.Warn().
				Err(o.Err).
				Str("category", o.Item.category).
				Str("menu", o.Item.menu).
				Msg("Submenu list failed to load")
			continue
		}
		children[o.Item] = o.Value
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	seen := make(map[string]struct{})
	for _, c := range categories {
		p.offer(catalog.FilterQuery{Category: c.Code}, seen, &report)

		for _, m := range menusByCategory[c.Code] {
			p.offer(catalog.FilterQuery{Category: c.Code, Menu: m.ID}, seen, &report)

			for _, s := range children[menuRef{category: c.Code, menu: m.ID}] {
				p.offer(catalog.FilterQuery{Category: c.Code, Menu: m.ID, Submenu: s.ID}, seen, &report)
			}
		}
	}

	report.Duration = time.Since(start)
	p.logger.Info().
		Int("categories", report.LoadedCategories).
		Int("menus", report.Menus).
		Int("combinations", report.Combinations).
		Int("submitted", report.Submitted).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Preload sweep submitted")

	return report, nil
}

// waitForMenus polls until every visible category's menus have loaded or
// the timeout elapses, and returns the loaded categories.
func (p *Preloader) waitForMenus(ctx context.Context) ([]catalog.Category, int, bool, error) {
	deadline := time.NewTimer(p.config.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		visible, loaded := p.loadedCategories()
		if visible > 0 && len(loaded) == visible {
			return loaded, visible, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, visible, false, ctx.Err()
		case <-deadline.C:
			visible, loaded = p.loadedCategories()
			return loaded, visible, len(loaded) < visible || visible == 0, nil
		case <-ticker.C:
		}
	}
}

func (p *Preloader) loadedCategories() (int, []catalog.Category) {
	categories := p.menus.Categories()
	loaded := make([]catalog.Category, 0, len(categories))
	for _, c := range categories {
		if _, ok := p.menus.Menus(c.Code); ok {
			loaded = append(loaded, c)
		}
	}
	return len(categories), loaded
}

// offer submits q unless it was already seen in this sweep, is still in
// progress from an earlier sweep, or the gate rejects it.
func (p *Preloader) offer(q catalog.FilterQuery, seen map[string]struct{}, report *Report) {
	fingerprint := q.Fingerprint()
	if _, ok := seen[fingerprint]; ok {
		return
	}
	seen[fingerprint] = struct{}{}
	report.Combinations++

	p.mu.Lock()
	if t, ok := p.inProgress[fingerprint]; ok && !t.Settled() {
		p.mu.Unlock()
		report.Skipped++
		combinationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	p.mu.Unlock()

	if !p.gate.ShouldPrefetch(q) {
		report.Skipped++
		combinationsTotal.WithLabelValues("skipped").Inc()
		return
	}

	t := p.submitter.Submit(q, scheduler.PriorityNormal)

	p.mu.Lock()
	p.inProgress[fingerprint] = t
	p.mu.Unlock()

	report.Submitted++
	combinationsTotal.WithLabelValues("submitted").Inc()
}

// Wait blocks until every prefetch submitted by earlier sweeps has settled
// or ctx is done. Failed prefetches are logged and discarded.
func (p *Preloader) Wait(ctx context.Context) error {
	p.mu.Lock()
	tasks := make([]*scheduler.Task, 0, len(p.inProgress))
	for _, t := range p.inProgress {
		tasks = append(tasks, t)
	}
	p.mu.Unlock()

	failed := 0
	for _, t := range tasks {
		if _, err := t.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			failed++
			p.logger.Debug().
				Err(err).
				Str("fingerprint", t.Fingerprint).
				Msg("Preload prefetch discarded")
		}
	}

	p.mu.Lock()
	for fingerprint, t := range p.inProgress {
		if t.Settled() {
			delete(p.inProgress, fingerprint)
		}
	}
	p.mu.Unlock()

	p.logger.Info().
		Int("settled", len(tasks)).
		Int("failed", failed).
		Msg("Preload sweep settled")

	return nil
}

// InProgress returns the number of tracked prefetches that have not been
// reaped by Wait.
func (p *Preloader) InProgress() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inProgress)
}
