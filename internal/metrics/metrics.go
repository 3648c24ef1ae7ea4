// Package metrics exposes Prometheus instrumentation for the datastore.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpDuration tracks datastore operation latency by operation name.
	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dslite_op_duration_seconds",
		Help:    "Datastore operation latency",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})

	// OpTotal counts datastore operations by operation name and result.
	OpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslite_op_total",
		Help: "Total number of datastore operations by result",
	}, []string{"op", "result"})

	// SchemaMutationsTotal counts DDL statements executed while adapting
	// kind tables to newly seen properties.
	SchemaMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslite_schema_mutations_total",
		Help: "Total number of schema mutation statements applied",
	}, []string{"kind"})

	// OpenTransactions tracks transaction handles currently held open.
	OpenTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dslite_open_transactions",
		Help: "Number of open transaction handles",
	})

	// OpenCursors tracks query cursors currently held open.
	OpenCursors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dslite_open_cursors",
		Help: "Number of open query cursors",
	})

	// CacheResultTotal counts entity cache lookups by result.
	CacheResultTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslite_cache_result_total",
		Help: "Total number of entity cache lookups by result",
	}, []string{"result"})
)

// ObserveOp records the outcome and duration of a datastore operation.
func ObserveOp(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OpTotal.WithLabelValues(op, result).Inc()
	OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// CacheHit records a cache lookup that was served from the cache.
func CacheHit() {
	CacheResultTotal.WithLabelValues("hit").Inc()
}

// CacheMiss records a cache lookup that fell through to the backend.
func CacheMiss() {
	CacheResultTotal.WithLabelValues("miss").Inc()
}
