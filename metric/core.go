package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all store-level metrics shared across components.
// Component-specific metrics (cache stats, dispatcher internals) are
// registered separately through the MetricsRegistrar interface.
type Metrics struct {
	// Write path
	AppendsTotal   *prometheus.CounterVec // outcome: new, deduped, conflict, invalid
	LogSize        prometheus.Gauge
	EvictionsTotal prometheus.Counter

	// Read path
	QueriesTotal  prometheus.Counter
	QueryDuration prometheus.Histogram
	IndexUsage    *prometheus.CounterVec // index: kind, aggregate, day, hour, scan

	// Durable persistence
	PersistQueueDepth prometheus.Gauge
	PersistRetries    prometheus.Counter
	DeadLettersTotal  prometheus.Counter
	BackendUp         *prometheus.GaugeVec // tier: remote, local, memory
}

// NewMetrics creates a new Metrics instance with all store metrics
func NewMetrics() *Metrics {
	return &Metrics{
		AppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tabledger",
				Subsystem: "store",
				Name:      "appends_total",
				Help:      "Total number of append calls by outcome",
			},
			[]string{"outcome"},
		),

		LogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tabledger",
				Subsystem: "store",
				Name:      "log_size",
				Help:      "Number of events currently held in the in-memory log",
			},
		),

		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tabledger",
				Subsystem: "store",
				Name:      "evictions_total",
				Help:      "Total number of events evicted by the retention policy",
			},
		),

		QueriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tabledger",
				Subsystem: "query",
				Name:      "executed_total",
				Help:      "Total number of queries executed",
			},
		),

		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tabledger",
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Query execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		IndexUsage: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tabledger",
				Subsystem: "query",
				Name:      "index_usage_total",
				Help:      "Queries answered per index path",
			},
			[]string{"index"},
		),

		PersistQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tabledger",
				Subsystem: "persist",
				Name:      "queue_depth",
				Help:      "Events waiting in the durable-write queue",
			},
		),

		PersistRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tabledger",
				Subsystem: "persist",
				Name:      "retries_total",
				Help:      "Total durable-write retry attempts",
			},
		),

		DeadLettersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tabledger",
				Subsystem: "persist",
				Name:      "dead_letters_total",
				Help:      "Events abandoned after exhausting durable-write retries",
			},
		),

		BackendUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tabledger",
				Subsystem: "backend",
				Name:      "up",
				Help:      "Backend tier availability (0=down, 1=up)",
			},
			[]string{"tier"},
		),
	}
}
