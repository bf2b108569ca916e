// Package handlers provides HTTP request handlers for the PertScan API.
// This package implements REST endpoint handlers for scans, the service
// registry, health checks and the WebSocket feed.
package handlers

import (
	"net/http"

	"github.com/freaksdesign/PertScan/internal/logging"
)

// Dependencies are what the handlers are built from. Database, History and
// Gauge may be nil.
type Dependencies struct {
	Coordinator    ScanCoordinator
	History        ScanHistory
	Database       DatabasePinger
	Catalog        ServiceCatalog
	Gauge          ClientGauge
	Logger         *logging.Logger
	AllowedOrigins []string
	DefaultPorts   string
	MaxRequestSize int64
}

// HandlerManager manages all API handlers and their dependencies.
type HandlerManager struct {
	logger *logging.Logger

	health    *HealthHandler
	scan      *ScanHandler
	services  *ServicesHandler
	websocket *WebSocketHandler
}

// New creates a new handler manager with all handler groups initialized.
func New(deps Dependencies) *HandlerManager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	hm := &HandlerManager{logger: logger}
	hm.websocket = NewWebSocketHandler(logger, deps.Gauge, deps.AllowedOrigins)
	hm.health = NewHealthHandler(deps.Database, deps.Coordinator, logger)
	hm.scan = NewScanHandler(deps.Coordinator, deps.History, hm.websocket, logger,
		deps.DefaultPorts, deps.MaxRequestSize)
	hm.services = NewServicesHandler(deps.Catalog, logger)

	return hm
}

// Health handles GET /api/v1/health.
func (hm *HandlerManager) Health(w http.ResponseWriter, r *http.Request) {
	hm.health.Health(w, r)
}

// Liveness handles GET /api/v1/liveness.
func (hm *HandlerManager) Liveness(w http.ResponseWriter, r *http.Request) {
	hm.health.Liveness(w, r)
}

// Version handles GET /api/v1/version.
func (hm *HandlerManager) Version(w http.ResponseWriter, r *http.Request) {
	hm.health.Version(w, r)
}

// CreateScan handles POST /api/v1/scans - start a scan.
func (hm *HandlerManager) CreateScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.CreateScan(w, r)
}

// GetCurrentScan handles GET /api/v1/scans/current.
func (hm *HandlerManager) GetCurrentScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.GetCurrentScan(w, r)
}

// CancelCurrentScan handles DELETE /api/v1/scans/current.
func (hm *HandlerManager) CancelCurrentScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.CancelCurrentScan(w, r)
}

// ListScans handles GET /api/v1/scans - list saved scans.
func (hm *HandlerManager) ListScans(w http.ResponseWriter, r *http.Request) {
	hm.scan.ListScans(w, r)
}

// GetScan handles GET /api/v1/scans/{id} - get a saved scan.
func (hm *HandlerManager) GetScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.GetScan(w, r)
}

// DeleteScan handles DELETE /api/v1/scans/{id} - delete a saved scan.
func (hm *HandlerManager) DeleteScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.DeleteScan(w, r)
}

// ListServices handles GET /api/v1/services.
func (hm *HandlerManager) ListServices(w http.ResponseWriter, r *http.Request) {
	hm.services.ListServices(w, r)
}

// GetService handles GET /api/v1/services/{port}.
func (hm *HandlerManager) GetService(w http.ResponseWriter, r *http.Request) {
	hm.services.GetService(w, r)
}

// ScanWebSocket handles GET /api/v1/ws.
func (hm *HandlerManager) ScanWebSocket(w http.ResponseWriter, r *http.Request) {
	hm.websocket.ScanWebSocket(w, r)
}

// WebSocket returns the WebSocket hub so completions can be pushed to it.
func (hm *HandlerManager) WebSocket() *WebSocketHandler {
	return hm.websocket
}

// Close stops the WebSocket hub.
func (hm *HandlerManager) Close() {
	hm.websocket.Close()
}
