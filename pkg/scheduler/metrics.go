package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for scheduler operations.
var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalog_scheduler_queue_depth",
		Help: "Tasks waiting for a dispatch slot",
	}, []string{"scheduler"})

	activeDispatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalog_scheduler_active",
		Help: "Dispatch slots in use",
	}, []string{"scheduler"})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_scheduler_submissions_total",
		Help: "Submissions by admission outcome (cached, in_flight, queued, promoted, enqueued, closed)",
	}, []string{"scheduler", "outcome"})

	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_scheduler_dispatches_total",
		Help: "Dispatched tasks by result (success, error, requeued, deferred, closed)",
	}, []string{"scheduler", "result"})

	deferralsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_scheduler_deferrals_total",
		Help: "Drain passes that deferred dispatch by reason (cooldown, not_before)",
	}, []string{"scheduler", "reason"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_scheduler_retries_total",
		Help: "Retries after rate-limit responses",
	}, []string{"scheduler"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_scheduler_retry_backoff_seconds",
		Help:    "Backoff before a rate-limit retry",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 10},
	}, []string{"scheduler"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_scheduler_retry_exhausted_total",
		Help: "Tasks whose rate-limit retries were exhausted and were requeued",
	}, []string{"scheduler"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_scheduler_dispatch_duration_seconds",
		Help:    "Time from dispatch to settlement, including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"scheduler"})
)
