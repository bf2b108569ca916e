// Package handlers provides HTTP request handlers for the PertScan API.
// This file implements health check and version endpoints.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// SessionReporter reports the shared scan session's state.
type SessionReporter interface {
	Current() scanning.Snapshot
}

// Timeout constants.
const (
	healthCheckTimeout = 5 * time.Second
)

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// Version is the API version string reported by /version.
var Version = "dev"

// HealthHandler handles health check and status endpoints.
type HealthHandler struct {
	database  DatabasePinger
	session   SessionReporter
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. database may be nil.
func NewHealthHandler(database DatabasePinger, session SessionReporter, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		database:  database,
		session:   session,
		logger:    logger.WithFields("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// LivenessResponse represents a simple liveness check response.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health performs a dependency health check. Only a failing database makes
// the service unhealthy; a busy session is reported but healthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]string),
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			response.Status = StatusUnhealthy
			response.Checks["database"] = "failed"
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = StatusNotConfigured
	}

	if h.session != nil {
		response.Checks["session"] = h.session.Current().State.String()
	} else {
		response.Checks["session"] = StatusNotConfigured
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, r, statusCode, response)
}

// Liveness answers as long as the process is serving.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
	})
}

// Version reports build information.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   Version,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}
