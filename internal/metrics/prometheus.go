// Package metrics provides Prometheus-based metrics collection for PertScan.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all PertScan metrics
	namespace = "pertscan"

	// Subsystems
	subsystemScan     = "scan"
	subsystemProbe    = "probe"
	subsystemDatabase = "database"
	subsystemSystem   = "system"
	subsystemAPI      = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanRejected *prometheus.CounterVec
	activeScans  prometheus.Gauge

	// Probe metrics
	probesTotal    *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
	probesInFlight prometheus.Gauge

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	wsClients    prometheus.Gauge

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initProbeMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of finished scans by status",
		},
		[]string{"status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 3.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"status"},
	)

	pm.scanRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "rejected_total",
			Help:      "Total number of scan requests rejected before start by reason",
		},
		[]string{"reason"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently running scans",
		},
	)
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of port probes by result",
		},
		[]string{"result"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of TCP connect attempts in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 3.0},
		},
		[]string{"result"},
	)

	pm.probesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "in_flight",
			Help:      "Number of connect attempts currently outstanding",
		},
	)
}

func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)

	pm.wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "websocket_clients",
			Help:      "Number of connected websocket clients",
		},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.scanRejected,
		pm.activeScans,
		pm.probesTotal,
		pm.probeDuration,
		pm.probesInFlight,
		pm.dbQueries,
		pm.dbQueryDuration,
		pm.httpRequests,
		pm.httpDuration,
		pm.wsClients,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Scan Metrics Methods

// ScanStarted increments the active scan gauge.
func (pm *PrometheusMetrics) ScanStarted() {
	pm.activeScans.Inc()
}

// ScanFinished records a finished scan and decrements the active gauge.
func (pm *PrometheusMetrics) ScanFinished(status string, duration time.Duration) {
	pm.activeScans.Dec()
	pm.scansTotal.WithLabelValues(status).Inc()
	pm.scanDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ScanRejected counts a refused start by error code.
func (pm *PrometheusMetrics) ScanRejected(reason string) {
	pm.scanRejected.WithLabelValues(reason).Inc()
}

// ProbeStarted increments the in-flight probe gauge.
func (pm *PrometheusMetrics) ProbeStarted() {
	pm.probesInFlight.Inc()
}

// ProbeFinished records one probe outcome.
func (pm *PrometheusMetrics) ProbeFinished(open bool, duration time.Duration) {
	pm.probesInFlight.Dec()
	result := "closed"
	if open {
		result = "open"
	}
	pm.probesTotal.WithLabelValues(result).Inc()
	pm.probeDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// Database Metrics Methods

// RecordDatabaseQuery records a query outcome and duration.
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// API Metrics Methods

// RecordHTTPRequest records an HTTP request outcome and duration.
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetWebSocketClients sets the number of connected websocket clients.
func (pm *PrometheusMetrics) SetWebSocketClients(count int) {
	pm.wsClients.Set(float64(count))
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics on interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
