package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.backupsStarted, "backupsStarted counter should be initialized")
	assert.NotNil(t, collector.backupsCompleted, "backupsCompleted counter should be initialized")
	assert.NotNil(t, collector.backupsFailed, "backupsFailed counter should be initialized")
	assert.NotNil(t, collector.restoresStarted, "restoresStarted counter should be initialized")
	assert.NotNil(t, collector.restoresCompleted, "restoresCompleted counter should be initialized")
	assert.NotNil(t, collector.restoresFailed, "restoresFailed counter should be initialized")
	assert.NotNil(t, collector.walSegmentsShipped, "walSegmentsShipped counter should be initialized")
	assert.NotNil(t, collector.walShippingFailed, "walShippingFailed counter should be initialized")
	assert.NotNil(t, collector.retentionDeleted, "retentionDeleted counter should be initialized")
	assert.NotNil(t, collector.backupDuration, "backupDuration histogram should be initialized")
	assert.NotNil(t, collector.restoreDuration, "restoreDuration histogram should be initialized")
	assert.NotNil(t, collector.backupsInProgress, "backupsInProgress gauge should be initialized")
	assert.NotNil(t, collector.restoresInProgress, "restoresInProgress gauge should be initialized")
	assert.NotNil(t, collector.walShippingLagBytes, "walShippingLagBytes gauge should be initialized")
	assert.NotNil(t, collector.lastBackupSizeBytes, "lastBackupSizeBytes gauge should be initialized")
}

func TestRecordBackupStartAndEnd(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordBackupStart()
		collector.RecordBackupEnd(true, 12.5, 1024)
	}, "backup start/end should not panic")

	for i := 0; i < 5; i++ {
		collector.RecordBackupStart()
		collector.RecordBackupEnd(false, 0.5, 0)
	}
}

func TestRecordRestoreStartAndEnd(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordRestoreStart()
		collector.RecordRestoreEnd(true, 30.0)
	}, "restore start/end should not panic")

	for i := 0; i < 10; i++ {
		collector.RecordRestoreStart()
		collector.RecordRestoreEnd(false, 1.0)
	}
}

func TestRecordBackupDurationValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	// Test different duration values
	durations := []float64{0.001, 0.01, 0.1, 1.0, 300.0}

	for _, d := range durations {
		assert.NotPanics(t, func() {
			collector.RecordBackupStart()
			collector.RecordBackupEnd(true, d, 2048)
		}, "RecordBackupEnd should not panic with duration %f", d)
	}
}

func TestRecordWALShipping(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordWALSegmentShipped()
	}, "RecordWALSegmentShipped should not panic")

	for i := 0; i < 3; i++ {
		collector.RecordWALSegmentShipped()
	}
}

func TestRecordWALShippingFailure(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordWALShippingFailure()
	}, "RecordWALShippingFailure should not panic")

	for i := 0; i < 2; i++ {
		collector.RecordWALShippingFailure()
	}
}

func TestSetWALShippingLag(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	// Test setting different lag values
	lags := []int64{0, 1024, 1048576, 3}

	for _, lag := range lags {
		assert.NotPanics(t, func() {
			collector.SetWALShippingLag(lag)
		}, "SetWALShippingLag should not panic with lag %d", lag)
	}
}

func TestRecordRetentionDeleted(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name string
		n    int
	}{
		{"zero deletions", 0},
		{"normal deletions", 10},
		{"large retention sweep", 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.RecordRetentionDeleted(tc.n)
			}, "RecordRetentionDeleted should not panic")
		})
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	// Test concurrent updates (Prometheus metrics should be thread-safe)
	done := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordBackupStart()
			collector.RecordBackupEnd(true, 0.1, 512)
			collector.RecordWALSegmentShipped()
			collector.SetWALShippingLag(10)
			done <- true
		}()
	}

	// Wait for all goroutines to complete
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	// Test multiple collector instances work independently
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// Second collector will panic due to duplicate registration
	// This is expected: a process should have only one collector
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestBackupLifecycleSequence(t *testing.T) {
	// Test a typical backup lifecycle
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		// 1. Backup started
		collector.RecordBackupStart()

		// 2. WAL shipped while the backup runs
		collector.RecordWALSegmentShipped()
		collector.SetWALShippingLag(0)

		// 3. Backup completed
		collector.RecordBackupEnd(true, 45.0, 1<<20)

		// 4. Retention sweep deletes older backups
		collector.RecordRetentionDeleted(2)
	}, "complete backup lifecycle should not panic")
}

func TestBackupLifecycleWithFailure(t *testing.T) {
	// Test backup failure scenario
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		// 1. Backup started
		collector.RecordBackupStart()

		// 2. WAL shipping fails partway through
		collector.RecordWALShippingFailure()

		// 3. Backup fails
		collector.RecordBackupEnd(false, 5.0, 0)
	}, "backup failure scenario should not panic")
}

func TestRestoreLifecycleSequence(t *testing.T) {
	// Test restore start and recovery
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordRestoreStart()
		collector.RecordRestoreEnd(true, 120.0)
	}, "restore scenario should not panic")
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	// Test boundary values
	assert.NotPanics(t, func() {
		collector.RecordBackupEnd(true, 0.0, 0) // zero duration, zero size
		collector.SetWALShippingLag(0)           // no lag
		collector.SetWALShippingLag(-1)          // negative (shouldn't happen)
		collector.RecordRetentionDeleted(0)      // nothing to delete
	}, "edge case values should not panic")
}
