// Package metrics provides Prometheus metrics for the ingestion pipeline and router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal tracks ingestion sessions by terminal status
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clm_ingest",
			Subsystem: "session",
			Name:      "sessions_total",
			Help:      "Total number of ingestion sessions by terminal status",
		},
		[]string{"tenant_id", "entity_kind", "status"},
	)

	// SessionDuration tracks time from open to terminal status
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clm_ingest",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Duration of ingestion sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tenant_id", "entity_kind"},
	)

	// RecordsProcessed tracks per-record pipeline outcomes
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clm_ingest",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of staged records processed by outcome",
		},
		[]string{"tenant_id", "entity_kind", "outcome"},
	)

	// RouterDispatches tracks router dispatches by event type and result
	RouterDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clm_ingest",
			Subsystem: "router",
			Name:      "dispatches_total",
			Help:      "Total number of routed integration messages by event type and result",
		},
		[]string{"event_type", "result"},
	)

	// LedgerChecks tracks idempotency ledger check results
	LedgerChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clm_ingest",
			Subsystem: "ledger",
			Name:      "checks_total",
			Help:      "Total number of idempotency ledger checks by result",
		},
		[]string{"result"},
	)

	// AggregationsFlushed tracks correlation buffer flushes
	AggregationsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clm_ingest",
			Subsystem: "router",
			Name:      "aggregations_flushed_total",
			Help:      "Total number of aggregation flushes by reason (complete, timeout)",
		},
		[]string{"reason"},
	)
)
