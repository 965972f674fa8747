package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvocationsTotal counts finished invocations by outcome and confidence.
	// Outcome is "success" or the failure category; confidence is empty on
	// failure, so size/hash-only acceptances stay distinguishable from
	// watermarked ones.
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brewgate_invocations_total",
			Help: "Total number of tool invocations",
		},
		[]string{"outcome", "confidence"},
	)

	// InvocationDuration tracks end-to-end pipeline duration in seconds.
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brewgate_invocation_duration_seconds",
			Help:    "Duration of tool invocations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 13), // 50ms to ~200s
		},
		[]string{"outcome"},
	)

	// JobsActive tracks the number of jobs currently inside the pipeline.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "brewgate_jobs_active",
			Help: "Number of jobs currently being processed",
		},
	)

	// CandidatesRejected counts candidate outputs rejected during resolution.
	CandidatesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brewgate_candidates_rejected_total",
			Help: "Candidate outputs rejected by the resolver",
		},
		[]string{"source", "reason"},
	)

	// CleanupFailures counts best-effort cleanup steps that failed.
	CleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brewgate_cleanup_failures_total",
			Help: "Total number of failed cleanup steps",
		},
	)

	// DuplicateDeliveries counts queue messages skipped by the idempotency lock.
	DuplicateDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brewgate_duplicate_deliveries_total",
			Help: "Queue deliveries skipped as duplicates",
		},
	)
)
