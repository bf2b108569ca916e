package scanning

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: logging.LevelError}, io.Discard)
}

// fakeProber reports the ports in open as accepting and records how many
// probes ran at once.
type fakeProber struct {
	open  map[int]bool
	delay time.Duration

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeProber(open ...int) *fakeProber {
	p := &fakeProber{open: make(map[int]bool)}
	for _, port := range open {
		p.open[port] = true
	}
	return p
}

func (p *fakeProber) Probe(ctx context.Context, _ string, port int) bool {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			break
		}
	}

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return false
		}
	}
	return p.open[port]
}

// gateScanner blocks every scan until release is closed or ctx ends.
type gateScanner struct {
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newGateScanner() *gateScanner {
	return &gateScanner{release: make(chan struct{})}
}

func (g *gateScanner) Open() {
	g.once.Do(func() { close(g.release) })
}

func (g *gateScanner) Scan(ctx context.Context, req ScanRequest) (ResultSet, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		results := make(ResultSet, 0, req.Ports.Len())
		for port := req.Ports.Lo; port <= req.Ports.Hi; port++ {
			results = append(results, PortResult{Target: req.Target, Port: port})
		}
		return results, nil
	case <-ctx.Done():
		return nil, errors.ErrScanCanceled(req.Target, ctx.Err())
	}
}

func mustRequest(target string, lo, hi int) ScanRequest {
	req, err := NewScanRequest(target, lo, hi)
	if err != nil {
		panic(err)
	}
	return req
}
