package scanning

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is the delay between completion checks.
const DefaultPollInterval = 100 * time.Millisecond

// Poller checks a Session for a finished scan on a fixed interval without
// blocking its caller. A Poller delivers at most one Completion.
type Poller struct {
	session  *Session
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewPoller creates a poller for session. A non-positive interval selects
// DefaultPollInterval.
func NewPoller(session *Session, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{session: session, interval: interval}
}

// Start schedules the first check and returns. When a completion is found,
// onComplete runs once on a timer goroutine and polling stops.
func (p *Poller) Start(onComplete func(*Completion)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.interval, func() { p.check(onComplete) })
}

func (p *Poller) check(onComplete func(*Completion)) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}

	c, ok := p.session.Poll()
	if !ok {
		p.timer.Reset(p.interval)
		p.mu.Unlock()
		return
	}

	p.stopped = true
	p.mu.Unlock()

	onComplete(c)
}

// Stop cancels further checks. It reports whether the poller was still
// waiting for a completion.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

// Wait polls on a ticker until a completion arrives or ctx ends. It is for
// callers that do want to block, such as the CLI.
func (p *Poller) Wait(ctx context.Context) (*Completion, error) {
	if c, ok := p.session.Poll(); ok {
		return c, nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if c, ok := p.session.Poll(); ok {
				return c, nil
			}
		}
	}
}
