// Package observability provides logging, metrics, and tracing for the
// file toolkit stores.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and the standard meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	CacheSizeBytes    prometheus.Gauge
	CacheEvictions    prometheus.Counter
	UploadQueueDepth  prometheus.Gauge
	UploadFailures    prometheus.Counter
}

// NewMetrics creates a custom Prometheus registry with the standard meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filetoolkit_operation_duration_seconds",
		Help:    "Duration of store operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filetoolkit_operation_total",
		Help: "Total number of store operations.",
	}, []string{"operation", "status"})

	cacheSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "filetoolkit_cache_size_bytes",
		Help: "Total bytes held in the cache tier.",
	})

	cacheEvictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filetoolkit_cache_evictions_total",
		Help: "Total cache-tier blobs evicted by pruning.",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "filetoolkit_upload_queue_depth",
		Help: "Identifiers currently queued or in flight for remote push.",
	})

	uploadFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filetoolkit_upload_failures_total",
		Help: "Total deferred uploads that ultimately failed.",
	})

	reg.MustRegister(opDuration, opTotal, cacheSize, cacheEvictions, queueDepth, uploadFailures)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		CacheSizeBytes:    cacheSize,
		CacheEvictions:    cacheEvictions,
		UploadQueueDepth:  queueDepth,
		UploadFailures:    uploadFailures,
	}
}
