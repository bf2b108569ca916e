package scanning

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/metrics"
)

// State is the lifecycle position of a Session.
type State int

const (
	// StateIdle means no scan is running and no result is waiting.
	StateIdle State = iota
	// StateScanning means a scan is running in the background.
	StateScanning
	// StateCompleted means a finished scan is waiting to be polled.
	StateCompleted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Session runs one scan at a time off the caller's goroutine and hands the
// result back through a single-slot channel. The transitions are
// Idle -> Scanning -> Completed -> Idle, the last one taken by Poll.
type Session struct {
	mu       sync.Mutex
	state    State
	active   ScanRequest
	activeID string
	done     chan *Completion

	scanner Scanner
	metrics metrics.ScanMetrics
	logger  *logging.Logger
	wg      sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionMetrics sets the metrics sink for scan lifecycle events.
func WithSessionMetrics(m metrics.ScanMetrics) SessionOption {
	return func(s *Session) { s.metrics = metrics.OrNop(m) }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l *logging.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession creates an idle session that runs scans with scanner.
func NewSession(scanner Scanner, opts ...SessionOption) *Session {
	s := &Session{
		state:   StateIdle,
		done:    make(chan *Completion, 1),
		scanner: scanner,
		metrics: metrics.Nop{},
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("session")
	return s
}

// Start validates req and launches the scan in the background, returning
// the new scan ID immediately. It fails with INVALID_RANGE for a bad request
// and SCAN_IN_PROGRESS while another scan runs. A completed scan that was
// never polled is discarded. ctx governs the background scan, not the call.
func (s *Session) Start(ctx context.Context, req ScanRequest) (string, error) {
	if err := req.Validate(); err != nil {
		s.metrics.ScanRejected(string(errors.CodeInvalidRange))
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateScanning {
		s.metrics.ScanRejected(string(errors.CodeScanInProgress))
		return "", errors.ErrScanInProgress(req.Target).
			WithContext("active_target", s.active.Target).
			WithContext("active_ports", s.active.Ports.String())
	}

	if s.state == StateCompleted {
		select {
		case stale := <-s.done:
			s.logger.Info("Discarding uncollected scan result",
				"scan_id", stale.ID,
				"target", stale.Request.Target)
		default:
		}
	}

	id := uuid.NewString()
	s.state = StateScanning
	s.active = req
	s.activeID = id
	s.metrics.ScanStarted()

	s.logger.InfoScan("Scan started", req.Target, "scan_id", id, "ports", req.Ports.String())

	s.wg.Add(1)
	go s.run(ctx, id, req)

	return id, nil
}

func (s *Session) run(ctx context.Context, id string, req ScanRequest) {
	defer s.wg.Done()

	started := time.Now()
	results, err := s.scanner.Scan(ctx, req)
	c := &Completion{
		ID:         id,
		Request:    req,
		Results:    results,
		Err:        err,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		c.Results = nil
	}

	s.mu.Lock()
	s.state = StateCompleted
	// The slot was emptied by Start and only one scan runs at a time, so
	// this send never blocks.
	s.done <- c
	s.mu.Unlock()

	s.metrics.ScanFinished(c.Status(), c.Duration())

	logger := s.logger.WithScanID(id)
	if err != nil {
		logger.ErrorScan("Scan finished with error", req.Target, err)
		return
	}
	logger.InfoScan("Scan completed", req.Target,
		"ports", len(results),
		"open", results.OpenCount(),
		"duration", c.Duration())
}

// Poll checks for a finished scan without blocking. On success the session
// returns to Idle and the caller owns the Completion; each completion is
// observed by exactly one Poll.
func (s *Session) Poll() (*Completion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case c := <-s.done:
		s.state = StateIdle
		s.active = ScanRequest{}
		s.activeID = ""
		return c, true
	default:
		return nil, false
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the request and ID of the running or uncollected scan.
func (s *Session) Active() (ScanRequest, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return ScanRequest{}, "", false
	}
	return s.active, s.activeID, true
}

// Close waits for any background scan to finish. Cancel the context given
// to Start first to stop it early.
func (s *Session) Close() {
	s.wg.Wait()
}
