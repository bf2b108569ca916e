package scanning

import (
	"context"
	"fmt"
	"time"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/metrics"
	"github.com/freaksdesign/PertScan/internal/services"
	"github.com/freaksdesign/PertScan/internal/workers"
)

const (
	// DefaultPoolSize is the number of concurrent probes used when none is configured.
	DefaultPoolSize = 100
	// MaxPoolSize is the hard cap on concurrent probes per scan.
	MaxPoolSize = 1000
	// DefaultQueueSize is the probe work queue capacity.
	DefaultQueueSize = 200

	probeJobType = "probe"
)

// Lookup resolves a port to its service name and description.
type Lookup interface {
	Lookup(port int) (name, description string)
}

// Scanner runs a complete scan of one request.
type Scanner interface {
	Scan(ctx context.Context, req ScanRequest) (ResultSet, error)
}

// Engine fans a port range out across a bounded worker pool and assembles
// the ordered, enriched result set.
type Engine struct {
	prober    Prober
	lookup    Lookup
	metrics   metrics.ScanMetrics
	logger    *logging.Logger
	poolSize  int
	queueSize int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithProber replaces the TCP connect prober.
func WithProber(p Prober) EngineOption {
	return func(e *Engine) { e.prober = p }
}

// WithLookup replaces the embedded service registry.
func WithLookup(l Lookup) EngineOption {
	return func(e *Engine) { e.lookup = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.ScanMetrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics.OrNop(m) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithPoolSize sets the configured worker count. Values above MaxPoolSize
// are capped and non-positive values select DefaultPoolSize.
func WithPoolSize(n int) EngineOption {
	return func(e *Engine) { e.poolSize = n }
}

// WithQueueSize sets the probe work queue capacity.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) { e.queueSize = n }
}

// NewEngine creates an engine with a 3s TCP prober and the embedded registry
// unless options say otherwise.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		prober:    NewTCPProber(DefaultProbeTimeout),
		lookup:    services.Default(),
		metrics:   metrics.Nop{},
		logger:    logging.Default(),
		poolSize:  DefaultPoolSize,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	e.logger = e.logger.WithComponent("engine")
	return e
}

// EffectivePoolSize returns the worker count for a range of rangeLen ports:
// the configured size, capped at MaxPoolSize and at the range length.
func EffectivePoolSize(configured, rangeLen int) int {
	size := configured
	if size <= 0 {
		size = DefaultPoolSize
	}
	if size > MaxPoolSize {
		size = MaxPoolSize
	}
	if rangeLen > 0 && rangeLen < size {
		size = rangeLen
	}
	return size
}

// Scan probes every port of req and returns one result per port in
// ascending order. Probe failures read as closed ports. Scan fails only for
// an invalid request or when ctx ends before all probes finish.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (ResultSet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	n := req.Ports.Len()
	poolSize := EffectivePoolSize(e.poolSize, n)
	queueSize := e.queueSize
	if queueSize <= 0 || queueSize > n {
		queueSize = n
	}

	pool := workers.New(workers.Config{Size: poolSize, QueueSize: queueSize})
	pool.Start()
	defer func() {
		if err := pool.Shutdown(); err != nil {
			e.logger.Warn("Probe pool shutdown failed", "error", err)
		}
	}()

	timer := metrics.NewTimer()
	e.logger.Debug("Scan dispatching",
		"target", req.Target,
		"ports", req.Ports.String(),
		"workers", poolSize)

	// Each job owns exactly one slot, so completion order cannot reorder
	// or duplicate results.
	results := make(ResultSet, n)
	var submitErr error
	for port := req.Ports.Lo; port <= req.Ports.Hi; port++ {
		job := &probeJob{
			ctx:    ctx,
			engine: e,
			target: req.Target,
			port:   port,
			slot:   &results[port-req.Ports.Lo],
		}
		if submitErr = pool.Submit(ctx, job); submitErr != nil {
			break
		}
	}
	pool.Drain()

	stats := pool.Stats()
	e.logger.Debug("Scan dispatch finished",
		"target", req.Target,
		"submitted", stats.Submitted,
		"completed", stats.Completed,
		"elapsed", timer.Elapsed())

	// Every slot was filled by an uninterrupted job, so a cancellation that
	// arrived after the last one does not discard the results.
	if submitErr == nil && stats.Completed == int64(n) {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.ErrScanCanceled(req.Target, err)
	}
	if submitErr != nil {
		return nil, errors.WrapScanError(errors.CodeScanFailed, "failed to dispatch probes", submitErr)
	}
	return nil, errors.NewScanError(errors.CodeScanFailed,
		fmt.Sprintf("only %d of %d ports were checked", stats.Completed, n))
}

// probeJob probes one port and writes the enriched result into its slot.
type probeJob struct {
	ctx    context.Context
	engine *Engine
	target string
	port   int
	slot   *PortResult
}

// Execute implements workers.Job. It fails only when the scan context ended
// while the port was being checked and the port did not answer, since that
// result cannot be told apart from a closed port.
func (j *probeJob) Execute(_ context.Context) error {
	e := j.engine

	e.metrics.ProbeStarted()
	start := time.Now()
	open := e.prober.Probe(j.ctx, j.target, j.port)
	e.metrics.ProbeFinished(open, time.Since(start))

	name, description := e.lookup.Lookup(j.port)
	*j.slot = PortResult{
		Target:      j.target,
		Port:        j.port,
		Open:        open,
		Name:        name,
		Description: description,
	}

	if open {
		e.logger.InfoScan("Open port found", j.target, "port", j.port, "service", name)
		return nil
	}
	return j.ctx.Err()
}

// ID implements workers.Job.
func (j *probeJob) ID() string {
	return fmt.Sprintf("%s:%d", j.target, j.port)
}

// Type implements workers.Job.
func (j *probeJob) Type() string {
	return probeJobType
}
