// Package api provides the HTTP REST API for PertScan. It exposes the
// shared scan session, saved scan history and the service registry.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/freaksdesign/PertScan/internal/api/handlers"
	"github.com/freaksdesign/PertScan/internal/api/middleware"
	"github.com/freaksdesign/PertScan/internal/config"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/metrics"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	readHeaderTimeout     = 10 * time.Second
	idleTimeout           = 60 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	handlers   *apihandlers.HandlerManager
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	startTime  time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server. pm may be nil, in which case /metrics is
// not served and request metrics are not recorded.
func New(
	cfg *config.Config,
	hm *apihandlers.HandlerManager,
	pm *metrics.PrometheusMetrics,
	logger *logging.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if hm == nil {
		return nil, fmt.Errorf("handler manager is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		handlers:  hm,
		logger:    logger.WithComponent("api"),
		metrics:   pm,
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:              cfg.GetAPIAddress(),
		Handler:           s.wrapRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	return s, nil
}

// Start listens on the configured address and serves until ctx is done or
// the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or the server fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting API server", "address", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server and disconnects WebSocket clients.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	s.handlers.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Mismatches are answered by whichever router sees them first.
	for _, r := range []*mux.Router{s.router, api} {
		r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)
		r.NotFoundHandler = http.HandlerFunc(s.notFound)
	}

	api.HandleFunc("/liveness", s.handlers.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", s.handlers.Version).Methods(http.MethodGet)

	// /scans/current must be registered before /scans/{id}.
	api.HandleFunc("/scans", s.handlers.ListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans", s.handlers.CreateScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/current", s.handlers.GetCurrentScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/current", s.handlers.CancelCurrentScan).Methods(http.MethodDelete)
	api.HandleFunc("/scans/{id}", s.handlers.GetScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", s.handlers.DeleteScan).Methods(http.MethodDelete)

	api.HandleFunc("/services", s.handlers.ListServices).Methods(http.MethodGet)
	api.HandleFunc("/services/{port}", s.handlers.GetService).Methods(http.MethodGet)

	api.HandleFunc("/ws", s.handlers.ScanWebSocket).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// setupMiddleware configures middleware that runs after route matching.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	if s.config.Logging.RequestLogging {
		s.router.Use(middleware.Logging(s.logger))
	}
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())
	s.router.Use(middleware.RequestTimeout(s.config.API.RequestTimeout))
}

// wrapRouter adds the handlers that must see requests before routing:
// CORS preflights never match a route, and proxy headers rewrite
// RemoteAddr for everything downstream.
func (s *Server) wrapRouter() http.Handler {
	var h http.Handler = s.router

	if origins := s.config.API.AllowedOrigins; len(origins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedHeaders([]string{"Content-Type", middleware.RequestIDHeader}),
			handlers.AllowedMethods([]string{
				http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
			}),
			handlers.ExposedHeaders([]string{middleware.RequestIDHeader, "Location"}),
		)(h)
	}

	return handlers.ProxyHeaders(h)
}

// index describes the API for requests to /.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "PertScan API",
		"version": "v1",
		"endpoints": map[string]string{
			"liveness": "/api/v1/liveness",
			"health":   "/api/v1/health",
			"scans":    "/api/v1/scans",
			"current":  "/api/v1/scans/current",
			"services": "/api/v1/services",
			"ws":       "/api/v1/ws",
		},
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, response, s.logger)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeRoutingError(w, r, http.StatusMethodNotAllowed,
		fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path))
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.writeRoutingError(w, r, http.StatusNotFound, "no route for "+r.URL.Path)
}

// writeRoutingError runs outside the middleware chain, so it carries the
// request ID header itself when the client sent one.
func (s *Server) writeRoutingError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if id := r.Header.Get(middleware.RequestIDHeader); id != "" {
		w.Header().Set(middleware.RequestIDHeader, id)
	}
	writeJSON(w, status, apihandlers.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}, s.logger)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the address the server listens on, or the configured
// address before Start.
func (s *Server) GetAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}, logger *logging.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}
