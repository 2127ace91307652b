// Package metrics exposes the engine's Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ff_gift"

// Claim metrics
var (
	// ClaimVerificationsTotal counts claim verifications by outcome
	ClaimVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_verifications_total",
			Help:      "Claim verifications by outcome",
		},
		[]string{"outcome"}, // valid, invalid_password, not_found, not_claimable, rate_limited, unavailable, error
	)
)

// Resolver metrics
var (
	// ResolverLookupsTotal counts tokenId lookups by source
	ResolverLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_lookups_total",
			Help:      "Identifier lookups by source",
		},
		[]string{"source"}, // cache, probe, chain, miss, error
	)

	// ResolverProbeDepth records how many gifts a probe inspected
	ResolverProbeDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolver_probe_depth",
			Help:      "Gifts inspected per probe",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// MappingConflictsTotal counts rejected conflicting binds
	MappingConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_conflicts_total",
			Help:      "Conflicting identifier mapping writes",
		},
	)
)

// Event log and reconciliation metrics
var (
	// EventsAppendedTotal counts append outcomes per event type
	EventsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Canonical event appends",
		},
		[]string{"type", "result"}, // result: appended, duplicate
	)

	// ReconcileRunsTotal counts reconcile runs by status
	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconcile runs",
		},
		[]string{"status"},
	)

	// ReconcileDuration records reconcile run time
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Reconcile run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// CheckpointBlock is the last reconciled block
	CheckpointBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_block",
			Help:      "Last reconciled block number",
		},
	)

	// ConsistencyErrorsTotal counts consistency errors by kind
	ConsistencyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_errors_total",
			Help:      "Consistency errors detected",
		},
		[]string{"kind"},
	)
)

// Materializer metrics
var (
	// AggregateCASConflictsTotal counts aggregate version conflicts
	AggregateCASConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_cas_conflicts_total",
			Help:      "Compare-and-swap conflicts on campaign aggregates",
		},
	)

	// EventsMaterializedTotal counts events folded into aggregates
	EventsMaterializedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_materialized_total",
			Help:      "Events folded into campaign aggregates",
		},
	)
)

// Degraded mode and retry metrics
var (
	// DegradedWritesTotal counts writes buffered while the primary store was unavailable
	DegradedWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_writes_total",
			Help:      "Annotation writes buffered in memory",
		},
	)

	// DegradedReadsTotal counts reads served from the in-memory buffer
	DegradedReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_reads_total",
			Help:      "Annotation reads served from memory",
		},
	)

	// DegradedBufferSize is the number of buffered records
	DegradedBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_buffer_size",
			Help:      "Records held in the degraded buffer",
		},
	)

	// StaleStatsServedTotal counts analytics reads answered from the last-known-good cache
	StaleStatsServedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_stats_served_total",
			Help:      "Campaign stats served from cache",
		},
	)

	// RetriesTotal counts retried operations
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried store and RPC operations",
		},
		[]string{"operation"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration records API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
