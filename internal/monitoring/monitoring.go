package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide Prometheus instruments for the shared
// key-value core. A single Metrics instance is normally constructed once per
// process and shared across every SharedMap/SharedDirectory instance.
type Metrics struct {
	OperationsSubmitted  prometheus.Counter
	OperationsApplied    prometheus.Counter
	OperationsIgnored    prometheus.Counter
	OperationsUnknown    prometheus.Counter
	ReconciliationErrors prometheus.Counter
	PendingKeys          prometheus.Gauge
	PendingSubDirs       prometheus.Gauge
	SnapshotBlobCount    prometheus.Histogram
	SnapshotBytes        prometheus.Histogram
	RestoreDuration      prometheus.Histogram
	ActiveContainers     prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		OperationsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shareddata_operations_submitted_total",
			Help: "Total number of operations submitted to the ordering service",
		}),
		OperationsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shareddata_operations_applied_total",
			Help: "Total number of inbound operations that mutated state",
		}),
		OperationsIgnored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shareddata_operations_ignored_total",
			Help: "Total number of inbound operations ignored by reconciliation (echoes or shadowed remotes)",
		}),
		OperationsUnknown: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shareddata_operations_unknown_total",
			Help: "Total number of inbound operations with an unrecognized type or target path",
		}),
		ReconciliationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shareddata_reconciliation_errors_total",
			Help: "Total number of prepare-phase failures (unresolvable handles, unregistered value types)",
		}),
		PendingKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shareddata_pending_keys",
			Help: "Current number of keys with an outstanding local operation",
		}),
		PendingSubDirs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shareddata_pending_subdirs",
			Help: "Current number of subdirectories with an outstanding local operation",
		}),
		SnapshotBlobCount: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shareddata_snapshot_blob_count",
			Help:    "Number of blobs produced by a snapshot",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
		SnapshotBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shareddata_snapshot_bytes",
			Help:    "Total serialized size of a snapshot",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}),
		RestoreDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shareddata_restore_duration_seconds",
			Help:    "Time taken to populate state from a snapshot",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		ActiveContainers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shareddata_active_containers",
			Help: "Number of attached SharedMap/SharedDirectory containers",
		}),
	}
}
