package scanning

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds a single connect attempt.
const DefaultProbeTimeout = 3 * time.Second

// Prober tests whether a TCP port accepts connections.
type Prober interface {
	// Probe reports whether target:port accepted a TCP connection. It never
	// returns an error: refused, timed out, unreachable and unresolvable all
	// read as false.
	Probe(ctx context.Context, target string, port int) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, target string, port int) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, target string, port int) bool {
	return f(ctx, target, port)
}

// TCPProber probes with a full TCP connect.
type TCPProber struct {
	Timeout time.Duration
}

// NewTCPProber returns a prober with the given timeout, or the default when
// timeout is not positive.
func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &TCPProber{Timeout: timeout}
}

// Probe dials target:port and closes the connection straight away.
func (p *TCPProber) Probe(ctx context.Context, target string, port int) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
