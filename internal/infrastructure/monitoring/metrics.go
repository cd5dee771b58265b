package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// App metrics
	AppsInstalled prometheus.Gauge
	AppsRunning   prometheus.Gauge

	// Task metrics
	TasksStarted   *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	TasksBusy      prometheus.Counter
	TaskDuration   *prometheus.HistogramVec

	// Provisioning metrics
	RuntimeDownloads prometheus.Counter
	PipInstalls      prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	InstalledApps     int64   `json:"installed_apps"`
	RunningApps       int64   `json:"running_apps"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appyard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appyard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// App metrics
		AppsInstalled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "appyard_apps_installed",
				Help: "Number of installed applications",
			},
		),
		AppsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "appyard_apps_running",
				Help: "Number of running applications",
			},
		),

		// Task metrics
		TasksStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appyard_tasks_started_total",
				Help: "Total number of tasks started",
			},
			[]string{"kind"},
		),
		TasksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appyard_tasks_completed_total",
				Help: "Total number of tasks completed successfully",
			},
			[]string{"kind"},
		),
		TasksFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appyard_tasks_failed_total",
				Help: "Total number of tasks that ended in error",
			},
			[]string{"kind"},
		),
		TasksBusy: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "appyard_tasks_busy_total",
				Help: "Total number of commands rejected because the app slot was held",
			},
		),
		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appyard_task_duration_seconds",
				Help:    "Task duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),

		// Provisioning metrics
		RuntimeDownloads: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "appyard_runtime_downloads_total",
				Help: "Total number of Python runtime archives downloaded",
			},
		),
		PipInstalls: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "appyard_pip_installs_total",
				Help: "Total number of pip install runs",
			},
		),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "appyard_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appyard_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "appyard_uptime_seconds",
				Help: "Orchestrator uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordTaskStart records a task entering its pipeline
func (m *Metrics) RecordTaskStart(kind string) {
	m.TasksStarted.WithLabelValues(kind).Inc()
}

// RecordTaskEnd records a finished task with its verdict
func (m *Metrics) RecordTaskEnd(kind string, duration time.Duration, failed bool) {
	m.TaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if failed {
		m.TasksFailed.WithLabelValues(kind).Inc()
	} else {
		m.TasksCompleted.WithLabelValues(kind).Inc()
	}
}

// RecordTaskBusy records a command rejected on a held slot
func (m *Metrics) RecordTaskBusy() {
	m.TasksBusy.Inc()
}

// RecordRuntimeDownload records one runtime archive fetch
func (m *Metrics) RecordRuntimeDownload() {
	m.RuntimeDownloads.Inc()
}

// RecordPipInstall records one pip run
func (m *Metrics) RecordPipInstall() {
	m.PipInstalls.Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetAppCounts updates the installed/running gauges from a snapshot
func (m *Metrics) SetAppCounts(installed, running int) {
	m.AppsInstalled.Set(float64(installed))
	m.AppsRunning.Set(float64(running))
	m.mu.Lock()
	m.snapshot.InstalledApps = int64(installed)
	m.snapshot.RunningApps = int64(running)
	m.mu.Unlock()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the health payload
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
