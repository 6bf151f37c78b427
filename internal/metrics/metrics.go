// ============================================================================
// pgkeep Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose system metrics for Prometheus monitoring
//
// Monitoring Philosophy:
//   Based on RED (Rate, Errors, Duration) and USE (Utilization, Saturation, Errors)
//   Provides observability over backup, restore, and WAL-shipping operations
//
// Metric Categories:
//
//   1. Backup/Restore Counters - Cumulative, monotonically increasing:
//      - backups_started_total / backups_completed_total / backups_failed_total
//      - restores_started_total / restores_completed_total / restores_failed_total
//      - wal_segments_shipped_total / wal_shipping_failed_total
//      - retention_backups_deleted_total
//
//   2. Performance Metrics (Histogram) - Distribution stats:
//      - backup_duration_seconds / restore_duration_seconds
//        * Exponential buckets from 1s to ~34min
//        * For SLA monitoring and performance analysis
//
//   3. Status Metrics (Gauge) - Instantaneous values:
//      - backups_in_progress / restores_in_progress
//      - wal_shipping_lag_bytes
//      - last_backup_size_bytes
//
// Use Cases:
//
//   Alerting:
//   - backup_duration_seconds p95 rising  → performance degradation
//   - backups_failed_total rate increase  → error rate alert
//   - wal_shipping_lag_bytes continuous growth → archiving falling behind
//
//   Capacity Planning:
//   - backups_completed_total / time → throughput trends
//   - backups_in_progress / worker_count → worker utilization
//
//   Troubleshooting:
//   - wal_shipping_failed_total spike → check archive command / network
//   - restore_duration anomaly → check combine/decompress throughput
//
// Prometheus Query Examples:
//
//   # Backups per hour
//   rate(pgkeep_backups_completed_total[1h])
//
//   # 95th percentile backup duration
//   histogram_quantile(0.95, pgkeep_backup_duration_seconds_bucket)
//
//   # Backup failure rate
//   rate(pgkeep_backups_failed_total[1h]) / rate(pgkeep_backups_started_total[1h])
//
// HTTP Endpoint:
//   This package does not expose an HTTP endpoint itself. The
//   HTTP/OpenMetrics serialization surface is an external collaborator
//   concern: a caller registers the Collector's metrics (or wires
//   promhttp.Handler against its own registerer) and serves /metrics.
//
// Performance:
//   - Counter/Gauge/Histogram operations are atomic, thread-safe
//
// ============================================================================
// Metrics Module
// Responsibility: Collect Prometheus metrics for backup/restore/WAL shipping
// ============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector collects Prometheus metrics for the backup/restore/WAL-shipping
// pipeline.
type Collector struct {
	// Backup/restore counters
	backupsStarted     prometheus.Counter
	backupsCompleted   prometheus.Counter
	backupsFailed      prometheus.Counter
	restoresStarted    prometheus.Counter
	restoresCompleted  prometheus.Counter
	restoresFailed     prometheus.Counter
	walSegmentsShipped prometheus.Counter
	walShippingFailed  prometheus.Counter
	retentionDeleted   prometheus.Counter

	// Performance metrics
	backupDuration  prometheus.Histogram
	restoreDuration prometheus.Histogram

	// Status metrics
	backupsInProgress   prometheus.Gauge
	restoresInProgress  prometheus.Gauge
	walShippingLagBytes prometheus.Gauge
	lastBackupSizeBytes prometheus.Gauge
}

// NewCollector creates a new metrics collector and registers its metrics
// with prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	c := &Collector{
		backupsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_backups_started_total",
			Help: "Total number of backup operations started",
		}),
		backupsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_backups_completed_total",
			Help: "Total number of backup operations completed successfully",
		}),
		backupsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_backups_failed_total",
			Help: "Total number of backup operations that failed",
		}),
		restoresStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_restores_started_total",
			Help: "Total number of restore operations started",
		}),
		restoresCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_restores_completed_total",
			Help: "Total number of restore operations completed successfully",
		}),
		restoresFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_restores_failed_total",
			Help: "Total number of restore operations that failed",
		}),
		walSegmentsShipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_wal_segments_shipped_total",
			Help: "Total number of WAL segments shipped to the archive",
		}),
		walShippingFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_wal_shipping_failed_total",
			Help: "Total number of WAL segment shipping attempts that failed",
		}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgkeep_retention_backups_deleted_total",
			Help: "Total number of backups deleted by a retention run",
		}),
		backupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pgkeep_backup_duration_seconds",
			Help:    "Backup operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		restoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pgkeep_restore_duration_seconds",
			Help:    "Restore operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		backupsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgkeep_backups_in_progress",
			Help: "Current number of backup operations in progress",
		}),
		restoresInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgkeep_restores_in_progress",
			Help: "Current number of restore operations in progress",
		}),
		walShippingLagBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgkeep_wal_shipping_lag_bytes",
			Help: "Bytes of WAL generated but not yet shipped to the archive",
		}),
		lastBackupSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgkeep_last_backup_size_bytes",
			Help: "Stored size in bytes of the most recently completed backup",
		}),
	}

	// Register all metrics
	prometheus.MustRegister(c.backupsStarted)
	prometheus.MustRegister(c.backupsCompleted)
	prometheus.MustRegister(c.backupsFailed)
	prometheus.MustRegister(c.restoresStarted)
	prometheus.MustRegister(c.restoresCompleted)
	prometheus.MustRegister(c.restoresFailed)
	prometheus.MustRegister(c.walSegmentsShipped)
	prometheus.MustRegister(c.walShippingFailed)
	prometheus.MustRegister(c.retentionDeleted)
	prometheus.MustRegister(c.backupDuration)
	prometheus.MustRegister(c.restoreDuration)
	prometheus.MustRegister(c.backupsInProgress)
	prometheus.MustRegister(c.restoresInProgress)
	prometheus.MustRegister(c.walShippingLagBytes)
	prometheus.MustRegister(c.lastBackupSizeBytes)

	return c
}

// RecordBackupStart records a backup operation starting
func (c *Collector) RecordBackupStart() {
	c.backupsStarted.Inc()
	c.backupsInProgress.Inc()
}

// RecordBackupEnd records a backup operation's outcome and duration. The
// in-progress gauge is decremented regardless of success.
func (c *Collector) RecordBackupEnd(success bool, durationSeconds float64, sizeBytes int64) {
	c.backupsInProgress.Dec()
	c.backupDuration.Observe(durationSeconds)
	if success {
		c.backupsCompleted.Inc()
		c.lastBackupSizeBytes.Set(float64(sizeBytes))
		return
	}
	c.backupsFailed.Inc()
}

// RecordRestoreStart records a restore operation starting
func (c *Collector) RecordRestoreStart() {
	c.restoresStarted.Inc()
	c.restoresInProgress.Inc()
}

// RecordRestoreEnd records a restore operation's outcome and duration
func (c *Collector) RecordRestoreEnd(success bool, durationSeconds float64) {
	c.restoresInProgress.Dec()
	c.restoreDuration.Observe(durationSeconds)
	if success {
		c.restoresCompleted.Inc()
		return
	}
	c.restoresFailed.Inc()
}

// RecordWALSegmentShipped records one successfully archived WAL segment
func (c *Collector) RecordWALSegmentShipped() {
	c.walSegmentsShipped.Inc()
}

// RecordWALShippingFailure records one failed WAL segment shipping attempt.
// The daemon's archive loop does not retry a failed segment: the failure
// ends that archive run and the segment stays in the spool.
func (c *Collector) RecordWALShippingFailure() {
	c.walShippingFailed.Inc()
}

// SetWALShippingLag reports the current count of WAL bytes generated but
// not yet shipped to the archive
func (c *Collector) SetWALShippingLag(bytes int64) {
	c.walShippingLagBytes.Set(float64(bytes))
}

// RecordRetentionDeleted records n backups removed by a retention run
func (c *Collector) RecordRetentionDeleted(n int) {
	c.retentionDeleted.Add(float64(n))
}
