package scanning

import (
	"context"
	"sync"
	"time"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
)

// StartOptions travel with a scan from Start to its completion handlers.
type StartOptions struct {
	// Save asks handlers to persist the completion.
	Save bool
	// Source names who started the scan, e.g. "api" or "schedule:nightly".
	Source string
}

// CompletionHandler receives every completion collected by a Coordinator.
type CompletionHandler func(c *Completion, opts StartOptions)

// Snapshot is a point-in-time view of a Coordinator.
type Snapshot struct {
	State    State
	ActiveID string
	Active   *ScanRequest
	Last     *Completion
}

// Coordinator owns the consuming side of a Session for long-running
// processes. Each accepted Start arms one Poller, and the completion it
// collects is recorded as the latest result and fanned out to handlers.
type Coordinator struct {
	session  *Session
	interval time.Duration
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	poller     *Poller
	scanCancel context.CancelFunc
	opts       map[string]StartOptions
	last       *Completion
	handlers   []CompletionHandler
	closed     bool

	// inflight counts pollers that may still deliver a completion.
	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator whose scans live as long as ctx.
// A non-positive interval selects DefaultPollInterval.
func NewCoordinator(
	ctx context.Context, session *Session, interval time.Duration, logger *logging.Logger,
) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		session:  session,
		interval: interval,
		logger:   logger.WithComponent("coordinator"),
		ctx:      ctx,
		cancel:   cancel,
		opts:     make(map[string]StartOptions),
	}
}

// OnComplete registers h. Handlers run in registration order on the
// goroutine that collected the completion.
func (c *Coordinator) OnComplete(h CompletionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Start launches req on the session and arms a poller for it. Errors are
// those of Session.Start, plus CANCELED once the coordinator is closed.
func (c *Coordinator) Start(req ScanRequest, opts StartOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", errors.ErrScanCanceled(req.Target, context.Canceled)
	}

	// A finished scan the poller has not reached yet is collected here
	// rather than discarded by the session.
	c.disarm()
	if done, ok := c.session.Poll(); ok {
		c.inflight.Add(1)
		go c.collect(done)
	}

	scanCtx, scanCancel := context.WithCancel(c.ctx)
	id, err := c.session.Start(scanCtx, req)
	if err != nil {
		scanCancel()
		if c.session.State() != StateIdle {
			c.arm()
		}
		return "", err
	}

	if c.scanCancel != nil {
		c.scanCancel()
	}
	c.scanCancel = scanCancel
	c.opts[id] = opts
	c.arm()
	return id, nil
}

// arm starts a poller for the session. c.mu must be held.
func (c *Coordinator) arm() {
	p := NewPoller(c.session, c.interval)
	c.poller = p
	c.inflight.Add(1)
	p.Start(c.collect)
}

// disarm stops the current poller. c.mu must be held.
func (c *Coordinator) disarm() {
	if c.poller == nil {
		return
	}
	if c.poller.Stop() {
		c.inflight.Done()
	}
	c.poller = nil
}

func (c *Coordinator) collect(done *Completion) {
	defer c.inflight.Done()

	c.mu.Lock()
	opts := c.opts[done.ID]
	delete(c.opts, done.ID)
	c.last = done
	handlers := append([]CompletionHandler(nil), c.handlers...)
	c.mu.Unlock()

	c.logger.Debug("Scan collected",
		"scan_id", done.ID,
		"status", done.Status(),
		"source", opts.Source)

	for _, h := range handlers {
		h(done, opts)
	}
}

// Cancel stops the running scan. It reports whether a scan was running.
// The canceled completion still reaches the handlers.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State() != StateScanning || c.scanCancel == nil {
		return false
	}
	c.scanCancel()
	c.scanCancel = nil
	return true
}

// Current returns the session state, the active scan if any and the last
// collected completion.
func (c *Coordinator) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{State: c.session.State(), Last: c.last}
	if req, id, ok := c.session.Active(); ok {
		snap.ActiveID = id
		snap.Active = &req
	}
	return snap
}

// Last returns the most recently collected completion.
func (c *Coordinator) Last() (*Completion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last != nil
}

// Close cancels any running scan, delivers its completion to the handlers
// and waits for them to return. Later Starts fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.session.Close()

	c.mu.Lock()
	c.disarm()
	done, ok := c.session.Poll()
	if ok {
		c.inflight.Add(1)
	}
	c.mu.Unlock()

	if ok {
		c.collect(done)
	}
	c.inflight.Wait()
}
