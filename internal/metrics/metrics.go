package metrics

import "time"

// Nop discards every observation. It is the default for components built
// without a metrics backend.
type Nop struct{}

func (Nop) ScanStarted() {}
func (Nop) ScanFinished(string, time.Duration) {}
func (Nop) ScanRejected(string) {}
func (Nop) ProbeStarted() {}
func (Nop) ProbeFinished(bool, time.Duration) {}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer for measuring execution time.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// OrNop returns m, or Nop when m is nil.
func OrNop(m ScanMetrics) ScanMetrics {
	if m == nil {
		return Nop{}
	}
	return m
}
