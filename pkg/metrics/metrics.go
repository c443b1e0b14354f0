// Package metrics exposes the Prometheus registry shared by the prefetch
// layer. Collectors are declared in their own packages (cache, scheduler,
// ratelimit, preload, debounce, catalog, account) via promauto so that no
// package depends on this one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every collector is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Result Cache (pkg/cache):
//   - catalog_cache_hits_total{layer="memory|redis"} (Counter): Cache hits by layer
//   - catalog_cache_misses_total (Counter): Cache misses
//   - catalog_cache_stale_total (Counter): Entries found stale on read
//   - catalog_cache_entries (Gauge): Results held in memory
//   - catalog_cache_invalidations_total (Counter): Entries removed by invalidation
//   - catalog_cache_errors_total{operation} (Counter): Shared-store errors
//
// Rate-Limit Governor (pkg/ratelimit):
//   - catalog_rate_limit_signals_total (Counter): Rate-limit responses observed
//   - catalog_governor_cooldowns_total (Counter): Transitions into cooldown
//   - catalog_governor_in_cooldown (Gauge): 1 while dispatch is deferred
//   - catalog_governor_spacing_wait_seconds (Histogram): Waits for request spacing
//
// Schedulers (pkg/scheduler), labelled by scheduler (hover, background):
//   - catalog_scheduler_queue_depth (Gauge): Tasks waiting for a slot
//   - catalog_scheduler_active (Gauge): Slots in use
//   - catalog_scheduler_submissions_total{outcome} (Counter): Admission outcomes
//   - catalog_scheduler_dispatches_total{result} (Counter): Dispatch results
//   - catalog_scheduler_deferrals_total{reason} (Counter): Deferred drain passes
//   - catalog_scheduler_retries_total (Counter): Rate-limit retries
//   - catalog_scheduler_retry_backoff_seconds (Histogram): Retry backoff
//   - catalog_scheduler_retry_exhausted_total (Counter): Tasks requeued after exhausting retries
//   - catalog_scheduler_dispatch_duration_seconds (Histogram): Dispatch to settlement
//
// Preloader (pkg/preload):
//   - catalog_preload_runs_total (Counter): Preload sweeps
//   - catalog_preload_menu_wait_timeouts_total (Counter): Sweeps that proceeded with partial menus
//   - catalog_preload_combinations_total{decision} (Counter): Submitted or skipped combinations
//   - catalog_preload_submenu_failures_total (Counter): Submenu lists that failed to load
//
// Debouncer (pkg/debounce):
//   - catalog_debounce_triggers_total, catalog_debounce_superseded_total,
//     catalog_debounce_fired_total, catalog_debounce_cancelled_total (Counter)
//
// Catalog Client (pkg/catalog):
//   - catalog_requests_total{endpoint, status} (Counter): Requests by endpoint and status
//   - catalog_request_duration_seconds{endpoint} (Histogram): Request duration
//   - catalog_errors_total{class} (Counter): Errors by class (rate_limit, transport, malformed, server)
//
// Account (pkg/account):
//   - account_requests_total{endpoint, status} (Counter): Account and decrypt requests
//   - account_request_duration_seconds{endpoint} (Histogram): Request duration
//   - account_cache_hits_total{kind}, account_cache_misses_total{kind} (Counter): Record cache lookups
//   - account_decrypt_failures_total (Counter): Cards skipped after failed decryption
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(catalog_cache_hits_total[5m])) /
//   (sum(rate(catalog_cache_hits_total[5m])) + sum(rate(catalog_cache_misses_total[5m])))
//
//   # Time Spent In Cooldown
//   avg_over_time(catalog_governor_in_cooldown[15m])
//
//   # Hover Queue Depth
//   catalog_scheduler_queue_depth{scheduler="hover"}
//
//   # P95 Catalog Latency
//   histogram_quantile(0.95, rate(catalog_request_duration_seconds_bucket[5m]))
