// Package workers provides a bounded worker pool for concurrent operations
// in PertScan. Submission blocks while the queue is full, so the number of
// jobs in flight never exceeds the worker count plus the queue capacity.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freaksdesign/PertScan/internal/logging"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for logging.
	Type() string
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            10,
		QueueSize:       100,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// ErrPoolShutdown is returned by Submit once Shutdown has been called.
var ErrPoolShutdown = fmt.Errorf("worker pool is shut down")

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config     Config
	jobs       chan Job
	workers    []*worker
	wg         sync.WaitGroup
	pending    sync.WaitGroup
	submitMu   sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	startOnce  sync.Once
	shutdown32 int32 // atomic shutdown flag

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// worker represents a single worker goroutine.
type worker struct {
	id   int
	pool *Pool
}

// New creates a new worker pool with the given configuration.
// Non-positive sizes fall back to the defaults.
func New(config Config) *Pool {
	defaults := DefaultConfig()
	if config.Size <= 0 {
		config.Size = defaults.Size
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		workers: make([]*worker, config.Size),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < config.Size; i++ {
		pool.workers[i] = &worker{
			id:   i,
			pool: pool,
		}
	}

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.config.Size
}

// Start begins the worker pool operations.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		logging.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize)

		for _, w := range p.workers {
			p.wg.Add(1)
			go w.run()
		}
	})
}

// Submit queues a job, blocking while the queue is full. It returns early
// with ctx's error if ctx ends first, or ErrPoolShutdown after Shutdown.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if atomic.LoadInt32(&p.shutdown32) == 1 {
		return ErrPoolShutdown
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.pending.Add(1)
	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

// Drain blocks until every submitted job has finished executing.
func (p *Pool) Drain() {
	p.pending.Wait()
}

// Stats returns the current job counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Shutdown stops accepting jobs, lets queued jobs finish and waits for the
// workers to exit, up to the configured timeout.
func (p *Pool) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&p.shutdown32, 0, 1) {
		return nil
	}

	// Wait out in-progress submissions before closing the queue.
	p.submitMu.Lock()
	close(p.jobs)
	p.submitMu.Unlock()

	// A pool that never started has no workers to drain the queue.
	p.Start()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Debug("Worker pool shutdown completed")
		p.cancel()
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.cancel()
		<-done
		return fmt.Errorf("worker pool shutdown timed out after %s", p.config.ShutdownTimeout)
	}
}

// run executes the worker loop until the queue is closed.
func (w *worker) run() {
	defer w.pool.wg.Done()

	logging.Debug("Worker started", "worker_id", w.id)
	defer logging.Debug("Worker stopped", "worker_id", w.id)

	for job := range w.pool.jobs {
		w.executeJob(job)
	}
}

// executeJob executes a single job. Jobs are never retried.
func (w *worker) executeJob(job Job) {
	defer w.pool.pending.Done()

	start := time.Now()
	err := job.Execute(w.pool.ctx)
	duration := time.Since(start)

	if err != nil {
		w.pool.failed.Add(1)
		logging.Debug("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"duration", duration,
			"worker_id", w.id,
			"error", err)
		return
	}

	w.pool.completed.Add(1)
}
