package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Audit metrics
	AuditRecordsTotal        *prometheus.CounterVec
	AuditRecordFailuresTotal prometheus.Counter
	AuditFeedSubscribers     prometheus.Gauge

	// Maintenance metrics
	MaintenancePassesTotal    *prometheus.CounterVec
	MaintenancePassDuration   *prometheus.HistogramVec
	MaintenanceRecordsTotal   *prometheus.CounterVec
	MaintenanceErrorsTotal    *prometheus.CounterVec
	MaintenanceSkippedRuns    *prometheus.CounterVec
	ArchiveBytesWrittenTotal  prometheus.Counter
	RetentionBytesFreedTotal  prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_records_total",
				Help: "Audit records accepted, by action and severity",
			},
			[]string{"action", "severity"},
		),
		AuditRecordFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_record_failures_total",
				Help: "Audit record writes that failed at the storage layer",
			},
		),
		AuditFeedSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_audit_feed_subscribers",
				Help: "Current live feed subscriber count",
			},
		),
		MaintenancePassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_maintenance_passes_total",
				Help: "Maintenance passes executed, by pass and outcome",
			},
			[]string{"pass", "outcome"},
		),
		MaintenancePassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_maintenance_pass_duration_seconds",
				Help:    "Maintenance pass duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"pass"},
		),
		MaintenanceRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_maintenance_records_total",
				Help: "Records processed by maintenance passes",
			},
			[]string{"pass"},
		),
		MaintenanceErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_maintenance_errors_total",
				Help: "Per-item failures collected during maintenance passes",
			},
			[]string{"pass"},
		),
		MaintenanceSkippedRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_maintenance_skipped_runs_total",
				Help: "Scheduled runs skipped because the previous run still held the job lock",
			},
			[]string{"pass"},
		),
		ArchiveBytesWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_archive_bytes_written_total",
				Help: "Bytes written to audit archive files",
			},
		),
		RetentionBytesFreedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_retention_bytes_freed_total",
				Help: "Bytes freed by retention deletion and backup cleanup",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuditRecordsTotal,
		m.AuditRecordFailuresTotal,
		m.AuditFeedSubscribers,
		m.MaintenancePassesTotal,
		m.MaintenancePassDuration,
		m.MaintenanceRecordsTotal,
		m.MaintenanceErrorsTotal,
		m.MaintenanceSkippedRuns,
		m.ArchiveBytesWrittenTotal,
		m.RetentionBytesFreedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Handler returns the /metrics handler for the registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
