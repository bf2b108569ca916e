// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

import "time"

//go:generate mockgen -destination=mocks/mock_scan_metrics.go -package=mocks github.com/freaksdesign/PertScan/internal/metrics ScanMetrics

// ScanMetrics is the set of observations the scan engine and session report.
// This interface allows for easy mocking and testing of metrics functionality.
type ScanMetrics interface {
	// ScanStarted records that a session accepted a scan request.
	ScanStarted()

	// ScanFinished records the end of a scan with its final status.
	ScanFinished(status string, duration time.Duration)

	// ScanRejected records a start attempt refused synchronously.
	ScanRejected(reason string)

	// ProbeStarted records a probe entering flight.
	ProbeStarted()

	// ProbeFinished records a probe outcome and how long the connect attempt took.
	ProbeFinished(open bool, duration time.Duration)
}

// Scan statuses reported to ScanFinished.
const (
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Ensure that both implementations satisfy ScanMetrics.
var (
	_ ScanMetrics = (*PrometheusMetrics)(nil)
	_ ScanMetrics = Nop{}
)
