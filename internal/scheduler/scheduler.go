// Package scheduler runs cron-driven scans against the shared scan session.
// A tick that finds the session busy is skipped rather than queued.
package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/freaksdesign/PertScan/internal/config"
	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

// SourcePrefix prefixes the StartOptions.Source of scheduled scans.
const SourcePrefix = "schedule:"

// Starter starts a scan on the shared session.
type Starter interface {
	Start(req scanning.ScanRequest, opts scanning.StartOptions) (string, error)
}

// Scheduler manages scheduled scan jobs.
type Scheduler struct {
	starter      Starter
	cron         *cron.Cron
	logger       *logging.Logger
	defaultPorts string
	jobs         map[string]*ScheduledJob
	mu           sync.RWMutex
	running      bool
}

// ScheduledJob is one named cron entry and its run history.
type ScheduledJob struct {
	Name       string
	Spec       string
	CronID     cron.EntryID
	Request    scanning.ScanRequest
	Save       bool
	LastRun    time.Time
	NextRun    time.Time
	LastScanID string
	Runs       int
	Skipped    int
	Failures   int
}

// NewScheduler creates a scheduler. defaultPorts is used by jobs that do
// not name a range.
func NewScheduler(starter Starter, defaultPorts string, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("scheduler")
	cl := cronLogger{logger: logger}

	return &Scheduler{
		starter:      starter,
		cron:         cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger:       logger,
		defaultPorts: defaultPorts,
		jobs:         make(map[string]*ScheduledJob),
	}
}

// Load adds every configured schedule.
func (s *Scheduler) Load(schedules []config.ScheduleConfig) error {
	for _, sc := range schedules {
		if err := s.AddJob(sc); err != nil {
			return err
		}
	}
	return nil
}

// AddJob validates a schedule and registers it with cron.
func (s *Scheduler) AddJob(sc config.ScheduleConfig) error {
	name := strings.TrimSpace(sc.Name)
	if name == "" {
		return errors.NewScanError(errors.CodeValidation, "schedule name is required")
	}

	ports := sc.Ports
	if ports == "" {
		ports = s.defaultPorts
	}
	req, err := scanning.ParseScanRequest(sc.Target, ports)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return errors.NewScanError(errors.CodeConflict, fmt.Sprintf("schedule %s already exists", name))
	}

	entryID, err := s.cron.AddFunc(sc.Cron, func() { s.run(name) })
	if err != nil {
		return errors.WrapScanError(errors.CodeValidation,
			fmt.Sprintf("schedule %s: invalid cron expression %q", name, sc.Cron), err)
	}

	s.jobs[name] = &ScheduledJob{
		Name:    name,
		Spec:    sc.Cron,
		CronID:  entryID,
		Request: req,
		Save:    sc.Save,
	}

	s.logger.Info("Scheduled scan added",
		"schedule", name,
		"cron", sc.Cron,
		"target", req.Target,
		"ports", req.Ports.String())
	return nil
}

// RemoveJob removes a schedule by name.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return errors.NewScanError(errors.CodeNotFound, fmt.Sprintf("schedule %s not found", name))
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler and waits for running ticks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// GetJobs returns a snapshot of all jobs, sorted by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := *job
		if entry := s.cron.Entry(job.CronID); entry.Valid() {
			j.NextRun = entry.Next
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Name < jobs[b].Name })
	return jobs
}

// run executes one tick of the named job.
func (s *Scheduler) run(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	req, save := job.Request, job.Save
	job.LastRun = time.Now()
	s.mu.Unlock()

	id, err := s.starter.Start(req, scanning.StartOptions{Save: save, Source: SourcePrefix + name})

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		job.Runs++
		job.LastScanID = id
		s.logger.InfoScan("Scheduled scan started", req.Target,
			"schedule", name,
			"scan_id", id,
			"ports", req.Ports.String())
	case errors.IsCode(err, errors.CodeScanInProgress):
		job.Skipped++
		s.logger.Info("Scheduled scan skipped, session busy",
			"schedule", name,
			"target", req.Target)
	default:
		job.Failures++
		s.logger.ErrorScan("Scheduled scan failed to start", req.Target, err,
			"schedule", name)
	}
}

// cronLogger adapts the slog wrapper to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
