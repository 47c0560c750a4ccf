// Package metrics exports backup, retention and health results to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/siteops/internal/backup"
	"github.com/jonesrussell/siteops/internal/health"
	"github.com/jonesrussell/siteops/internal/retention"
)

const (
	// Namespace prefixes every siteops metric.
	Namespace = "siteops"

	backupSubsystem    = "backup"
	retentionSubsystem = "retention"
	healthSubsystem    = "health"
)

// Metrics holds all siteops collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Backup metrics
	BackupsTotal          *prometheus.CounterVec
	BackupDurationSeconds prometheus.Histogram
	BackupLastSizeBytes   prometheus.Gauge
	BackupLastSuccess     prometheus.Gauge
	UploadFailuresTotal   prometheus.Counter
	BackupsInProgress     prometheus.Gauge

	// Retention metrics
	SweepDeletedTotal prometheus.Counter
	SweepFailedTotal  prometheus.Counter

	// Health metrics
	CheckUp              *prometheus.GaugeVec
	CheckDurationSeconds *prometheus.HistogramVec
}

// New creates a registry with Go and process collectors plus the siteops metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{registry: reg}
	factory := promauto.With(reg)

	m.initBackupMetrics(factory)
	m.initRetentionMetrics(factory)
	m.initHealthMetrics(factory)

	return m
}

func (m *Metrics) initBackupMetrics(factory promauto.Factory) {
	m.BackupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: backupSubsystem,
			Name:      "runs_total",
			Help:      "Total number of backup runs by status and failure kind",
		},
		[]string{"status", "failure"},
	)

	m.BackupDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: backupSubsystem,
			Name:      "duration_seconds",
			Help:      "Duration of backup runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
		},
	)

	m.BackupLastSizeBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: backupSubsystem,
			Name:      "last_size_bytes",
			Help:      "Compressed size of the last successful backup",
		},
	)

	m.BackupLastSuccess = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: backupSubsystem,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup",
		},
	)

	m.UploadFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: backupSubsystem,
			Name:      "upload_failures_total",
			Help:      "Total number of backups kept locally after a failed upload",
		},
	)

	m.BackupsInProgress = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: backupSubsystem,
			Name:      "in_progress",
			Help:      "Number of backup runs currently executing",
		},
	)
}

func (m *Metrics) initRetentionMetrics(factory promauto.Factory) {
	m.SweepDeletedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retentionSubsystem,
			Name:      "deleted_total",
			Help:      "Total number of expired backups deleted",
		},
	)

	m.SweepFailedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retentionSubsystem,
			Name:      "delete_failures_total",
			Help:      "Total number of expired backups that could not be deleted",
		},
	)
}

func (m *Metrics) initHealthMetrics(factory promauto.Factory) {
	m.CheckUp = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: healthSubsystem,
			Name:      "check_up",
			Help:      "Whether the last run of a health check passed (1) or failed (0)",
		},
		[]string{"check"},
	)

	m.CheckDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: healthSubsystem,
			Name:      "check_duration_seconds",
			Help:      "Duration of health checks in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"check"},
	)
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBackup records a finished backup run.
func (m *Metrics) ObserveBackup(artifact *backup.Artifact, duration time.Duration) {
	failure := ""
	if !artifact.Succeeded() {
		failure = failureFromReason(artifact)
	}
	m.BackupsTotal.WithLabelValues(string(artifact.Status), failure).Inc()
	m.BackupDurationSeconds.Observe(duration.Seconds())

	if !artifact.Succeeded() {
		return
	}
	m.BackupLastSizeBytes.Set(float64(artifact.SizeBytes))
	m.BackupLastSuccess.Set(float64(artifact.Timestamp.Unix()))
	if artifact.UploadErr != nil {
		m.UploadFailuresTotal.Inc()
	}
}

// ObserveSweep records a finished retention sweep.
func (m *Metrics) ObserveSweep(result retention.Result) {
	m.SweepDeletedTotal.Add(float64(result.Deleted))
	m.SweepFailedTotal.Add(float64(result.Failed()))
}

// ObserveCheck records one health check result.
func (m *Metrics) ObserveCheck(result health.Result) {
	up := 0.0
	if result.OK() {
		up = 1
	}
	m.CheckUp.WithLabelValues(result.Name).Set(up)
	m.CheckDurationSeconds.WithLabelValues(result.Name).Observe(result.Duration.Seconds())
}

// TrackBackup marks a backup as running until the returned func is called.
func (m *Metrics) TrackBackup() func() {
	m.BackupsInProgress.Inc()
	return m.BackupsInProgress.Dec
}

func failureFromReason(artifact *backup.Artifact) string {
	if artifact.Failure == "" {
		return backup.FailureOther
	}
	return artifact.Failure
}
