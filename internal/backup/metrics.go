package backup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pipeline activity to Prometheus
type Metrics struct {
	BackupsTotal        *prometheus.CounterVec
	BackupDuration      prometheus.Histogram
	LastBackupSize      prometheus.Gauge
	LastSuccess         prometheus.Gauge
	UploadFailures      prometheus.Counter
	RestoresTotal       *prometheus.CounterVec
	CleanupDeleted      prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
}

// NewMetrics registers the pipeline metrics with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BackupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omnicrm_backup_runs_total",
			Help: "Backup runs by outcome",
		}, []string{"outcome"}),
		BackupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "omnicrm_backup_duration_seconds",
			Help:    "Wall time of successful backup runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		LastBackupSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "omnicrm_backup_last_size_bytes",
			Help: "Size of the most recent final artifact",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "omnicrm_backup_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful backup",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnicrm_backup_upload_failures_total",
			Help: "Uploads that failed and left a backup local-only",
		}),
		RestoresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omnicrm_backup_restores_total",
			Help: "Restore runs by outcome",
		}, []string{"outcome"}),
		CleanupDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnicrm_backup_retention_deleted_total",
			Help: "Artifacts deleted by retention cleanup",
		}),
		ConsecutiveFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "omnicrm_backup_daemon_consecutive_failures",
			Help: "Scheduled runs that failed in a row",
		}),
	}
}

// ObserveBackup records the outcome of one CreateBackup call
func (m *Metrics) ObserveBackup(record *BackupRecord, duration time.Duration, err error) {
	if err != nil {
		m.BackupsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return
	}
	m.BackupsTotal.WithLabelValues("success").Inc()
	m.BackupDuration.Observe(duration.Seconds())
	m.LastBackupSize.Set(float64(record.SizeBytes))
	m.LastSuccess.Set(float64(record.CreatedAt.Unix()))
}

// ObserveRestore records the outcome of one Restore call
func (m *Metrics) ObserveRestore(err error) {
	if err != nil {
		m.RestoresTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return
	}
	m.RestoresTotal.WithLabelValues("success").Inc()
}

func outcomeLabel(err error) string {
	if t := ErrorType(err); t != "" {
		return string(t)
	}
	return "error"
}
