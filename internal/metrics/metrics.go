// Package metrics provides Prometheus metrics for docstore.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for docstore.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	DbSizeBytes      prometheus.Gauge
	DocumentsTotal   prometheus.Gauge
	FreeListDepth    prometheus.Gauge
	PageCacheHits    prometheus.Gauge
	PageCacheMisses  prometheus.Gauge
	TransactionsOpen prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics for one
// engine instance against its own private registry, so opening more
// than one database in a process (or in a test binary) never collides
// on the default global registerer.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.OperationsTotal = fac.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_operations_total",
			Help: "Total number of foreign-boundary operations",
		},
		[]string{"op", "status"},
	)

	m.OperationDuration = fac.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstore_operation_duration_seconds",
			Help:    "Duration of foreign-boundary operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)

	m.DbSizeBytes = fac.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_db_size_bytes",
			Help: "Current database file size in bytes",
		},
	)

	m.DocumentsTotal = fac.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_documents_total",
			Help: "Total number of documents in the index",
		},
	)

	m.FreeListDepth = fac.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_free_list_depth",
			Help: "Approximate number of pages reachable from the free-list root",
		},
	)

	m.PageCacheHits = fac.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_page_cache_hits",
			Help: "Cumulative page cache hits (mirrors get_cache_stats)",
		},
	)

	m.PageCacheMisses = fac.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_page_cache_misses",
			Help: "Cumulative page cache misses (mirrors get_cache_stats)",
		},
	)

	m.TransactionsOpen = fac.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_transactions_open",
			Help: "1 if a transaction is currently open, 0 otherwise",
		},
	)

	return m
}

// Registry exposes the private registry backing this Metrics instance,
// for an embedder that wants to serve /metrics itself.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordOperation records one foreign-boundary operation's outcome.
func (m *Metrics) RecordOperation(op string, status string, duration time.Duration) {
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// UpdateDBStats mirrors post-commit database size onto the gauges
// above.
func (m *Metrics) UpdateDBStats(sizeBytes int64, documents int, freeListDepth int) {
	m.DbSizeBytes.Set(float64(sizeBytes))
	m.DocumentsTotal.Set(float64(documents))
	m.FreeListDepth.Set(float64(freeListDepth))
}

// UpdateCacheStats mirrors get_cache_stats onto the gauges above.
func (m *Metrics) UpdateCacheStats(stats CacheStats) {
	m.PageCacheHits.Set(float64(stats.Hits))
	m.PageCacheMisses.Set(float64(stats.Misses))
}

// CacheStats is a metrics-package-local mirror of engine.CacheStats,
// kept dependency-free of the engine package.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}
