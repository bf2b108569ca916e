// Package daemon runs PertScan as a long-lived service. It owns the shared
// scan session and its coordinator, the optional scan history store, the
// scheduler and the API server, and shuts them down in order.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/freaksdesign/PertScan/internal/api"
	apihandlers "github.com/freaksdesign/PertScan/internal/api/handlers"
	"github.com/freaksdesign/PertScan/internal/config"
	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/metrics"
	"github.com/freaksdesign/PertScan/internal/scanning"
	"github.com/freaksdesign/PertScan/internal/scheduler"
	"github.com/freaksdesign/PertScan/internal/services"
)

const (
	healthCheckInterval   = 10 * time.Second
	metricsUpdateInterval = 15 * time.Second
	saveTimeout           = 30 * time.Second
	shutdownTimeout       = 45 * time.Second
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// ScanSaver persists finished scans.
type ScanSaver interface {
	SaveScan(ctx context.Context, c *scanning.Completion) (*db.ScanRecord, error)
}

// Daemon represents the main service process.
type Daemon struct {
	config  *config.Config
	logger  *logging.Logger
	pidFile string

	metrics     *metrics.PrometheusMetrics
	database    *db.DB
	store       *db.ScanStore
	saver       ScanSaver
	registry    *services.Registry
	session     *scanning.Session
	coordinator *scanning.Coordinator
	scheduler   *scheduler.Scheduler
	handlers    *apihandlers.HandlerManager
	apiServer   *api.Server

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// New creates a new daemon instance. pidFile may be empty.
func New(cfg *config.Config, logger *logging.Logger, pidFile string) *Daemon {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:  cfg,
		logger:  logger.WithComponent("daemon"),
		pidFile: pidFile,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start initializes every component and blocks until the daemon stops.
func (d *Daemon) Start() error {
	d.logger.Info("Starting PertScan daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initDatabase(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := d.initScanning(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize scanning: %w", err)
	}

	if err := d.initScheduler(); err != nil {
		d.shutdownScanning()
		d.cleanup()
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := d.initAPIServer(); err != nil {
		d.shutdownScanning()
		d.cleanup()
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	d.logger.Info("Daemon started successfully", "api_address", d.config.GetAPIAddress())
	return d.run()
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped gracefully")
		return nil
	case <-time.After(shutdownTimeout):
		d.logger.Warn("Shutdown timeout reached")
		return fmt.Errorf("daemon did not stop within %s", shutdownTimeout)
	}
}

// Done is closed once the daemon has shut down.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// createPIDFile creates the PID file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID fails if the PID file names a live process and removes
// it otherwise.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// setupSignalHandlers stops on SIGINT/SIGTERM and dumps status on SIGUSR1.
func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-d.ctx.Done():
				return
			case sig := <-sigChan:
				d.logger.Info("Received signal", "signal", sig.String())
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					d.logger.Info("Initiating graceful shutdown")
					d.cancel()
					return
				case syscall.SIGUSR1:
					d.dumpStatus()
				}
			}
		}
	}()
}

// initDatabase connects and migrates when a database is configured. Without
// one the daemon still scans; history endpoints answer 503.
func (d *Daemon) initDatabase() error {
	if !d.config.HasDatabase() {
		d.logger.Info("No database configured, scan history disabled")
		return nil
	}

	d.logger.InfoDatabase("Connecting to database",
		"host", d.config.Database.Host,
		"database", d.config.Database.Database)

	database, err := db.ConnectAndMigrate(d.ctx, &d.config.Database)
	if err != nil {
		return err
	}

	d.database = database
	d.logger.InfoDatabase("Database connection established")
	return nil
}

// initScanning builds the registry, engine, session and coordinator.
func (d *Daemon) initScanning() error {
	registry, err := services.Load(d.config.Services.RegistryFile)
	if err != nil {
		return err
	}
	d.registry = registry

	d.metrics = metrics.NewPrometheusMetrics()

	if d.database != nil {
		d.store = db.NewScanStore(d.database,
			db.WithQueryRecorder(d.metrics),
			db.WithStoreLogger(d.logger))
		d.saver = d.store
	}

	sc := d.config.Scanning
	engine := scanning.NewEngine(
		scanning.WithProber(scanning.NewTCPProber(sc.ProbeTimeout)),
		scanning.WithLookup(registry),
		scanning.WithMetrics(d.metrics),
		scanning.WithLogger(d.logger),
		scanning.WithPoolSize(sc.PoolSize),
		scanning.WithQueueSize(sc.QueueSize),
	)
	d.session = scanning.NewSession(engine,
		scanning.WithSessionMetrics(d.metrics),
		scanning.WithSessionLogger(d.logger))
	d.coordinator = scanning.NewCoordinator(d.ctx, d.session, sc.PollInterval, d.logger)
	d.coordinator.OnComplete(d.saveCompletion)

	d.logger.Info("Scan engine ready",
		"pool_size", sc.PoolSize,
		"probe_timeout", sc.ProbeTimeout,
		"services", registry.Len())
	return nil
}

// saveCompletion persists completions whose start asked for it.
func (d *Daemon) saveCompletion(c *scanning.Completion, opts scanning.StartOptions) {
	if !opts.Save {
		return
	}
	if d.saver == nil {
		d.logger.Warn("Scan save requested but no database is configured", "scan_id", c.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if _, err := d.saver.SaveScan(ctx, c); err != nil {
		d.logger.ErrorScan("Failed to save scan", c.Request.Target, err,
			"scan_id", c.ID,
			"source", opts.Source)
	}
}

func (d *Daemon) initScheduler() error {
	d.scheduler = scheduler.NewScheduler(d.coordinator, d.config.Scanning.DefaultPorts, d.logger)
	return d.scheduler.Load(d.config.Schedules)
}

func (d *Daemon) initAPIServer() error {
	deps := apihandlers.Dependencies{
		Coordinator:    d.coordinator,
		Catalog:        d.registry,
		Gauge:          d.metrics,
		Logger:         d.logger,
		AllowedOrigins: d.config.API.AllowedOrigins,
		DefaultPorts:   d.config.Scanning.DefaultPorts,
		MaxRequestSize: d.config.API.MaxRequestSize,
	}
	if d.store != nil {
		deps.History = d.store
		deps.Database = d.store
	}
	d.handlers = apihandlers.New(deps)
	d.coordinator.OnComplete(d.handlers.WebSocket().BroadcastScanCompleted)

	server, err := api.New(d.config, d.handlers, d.metrics, d.logger)
	if err != nil {
		return err
	}
	d.apiServer = server
	return nil
}

// run serves until the daemon context ends, then shuts down.
func (d *Daemon) run() error {
	go d.metrics.StartPeriodicUpdates(d.ctx, metricsUpdateInterval)

	if err := d.scheduler.Start(); err != nil {
		d.logger.Error("Failed to start scheduler", "error", err)
	}

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- d.apiServer.Start(d.ctx)
	}()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			break loop
		case err := <-apiErr:
			apiErr = nil
			if err != nil {
				d.logger.Error("API server error", "error", err)
				runErr = err
			}
			d.cancel()
			break loop
		case <-ticker.C:
			d.performHealthCheck()
		}
	}

	d.scheduler.Stop()
	d.shutdownScanning()
	if apiErr != nil {
		if err := <-apiErr; err != nil {
			d.logger.Error("API server shutdown error", "error", err)
		}
	}
	d.cleanup()
	close(d.done)
	return runErr
}

// shutdownScanning cancels a running scan and waits for its completion to
// be saved and broadcast.
func (d *Daemon) shutdownScanning() {
	if d.coordinator != nil {
		d.coordinator.Close()
	}
}

func (d *Daemon) performHealthCheck() {
	if d.database == nil {
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, healthCheckInterval/2)
	defer cancel()
	if err := d.database.Ping(ctx); err != nil && d.ctx.Err() == nil {
		d.logger.ErrorDatabase("Database health check failed", err)
	}
}

// cleanup closes the database and removes the PID file.
func (d *Daemon) cleanup() {
	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.ErrorDatabase("Error closing database", err)
		}
	}

	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("Error removing PID file", "path", d.pidFile, "error", err)
		}
	}
}

// dumpStatus logs the session, schedules and connected clients.
func (d *Daemon) dumpStatus() {
	snap := d.coordinator.Current()
	fields := []any{"state", snap.State.String()}
	if snap.Active != nil {
		fields = append(fields,
			"active_id", snap.ActiveID,
			"active_target", snap.Active.Target,
			"active_ports", snap.Active.Ports.String())
	}
	if snap.Last != nil {
		fields = append(fields,
			"last_id", snap.Last.ID,
			"last_status", snap.Last.Status(),
			"last_open", snap.Last.Results.OpenCount())
	}
	if d.handlers != nil {
		fields = append(fields, "websocket_clients", d.handlers.WebSocket().ClientCount())
	}
	if d.metrics != nil {
		fields = append(fields,
			"uptime", d.metrics.GetUptime().Round(time.Second),
			"metrics_updated", d.metrics.GetLastUpdate())
	}
	d.logger.Info("Daemon status", fields...)

	for _, job := range d.scheduler.GetJobs() {
		d.logger.Info("Schedule status",
			"schedule", job.Name,
			"runs", job.Runs,
			"skipped", job.Skipped,
			"failures", job.Failures,
			"next_run", job.NextRun)
	}
}

// GetContext returns the daemon's context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
