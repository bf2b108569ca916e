// Package handlers provides HTTP request handlers for the PertScan API.
// This file implements the scan endpoints: starting a scan on the shared
// session, inspecting the current one, and browsing saved history.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/metrics"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

// SourceAPI marks scans started over HTTP.
const SourceAPI = "api"

// ScanCoordinator starts scans and reports on the shared session.
type ScanCoordinator interface {
	Start(req scanning.ScanRequest, opts scanning.StartOptions) (string, error)
	Cancel() bool
	Current() scanning.Snapshot
}

// ScanHistory reads and deletes persisted scans.
type ScanHistory interface {
	GetScan(ctx context.Context, id uuid.UUID) (*db.ScanRecord, error)
	ListScans(ctx context.Context, filters db.ScanFilters, offset, limit int) ([]*db.ScanRecord, int64, error)
	DeleteScan(ctx context.Context, id uuid.UUID) error
}

// ScanNotifier is told about scans as they start.
type ScanNotifier interface {
	BroadcastScanStarted(id string, req scanning.ScanRequest)
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	coordinator    ScanCoordinator
	history        ScanHistory
	notifier       ScanNotifier
	logger         *logging.Logger
	validate       *validator.Validate
	defaultPorts   string
	maxRequestSize int64
}

// NewScanHandler creates a scan handler. history and notifier may be nil.
func NewScanHandler(
	coordinator ScanCoordinator,
	history ScanHistory,
	notifier ScanNotifier,
	logger *logging.Logger,
	defaultPorts string,
	maxRequestSize int64,
) *ScanHandler {
	return &ScanHandler{
		coordinator:    coordinator,
		history:        history,
		notifier:       notifier,
		logger:         logger.WithFields("handler", "scan"),
		validate:       validator.New(),
		defaultPorts:   defaultPorts,
		maxRequestSize: maxRequestSize,
	}
}

// StartScanRequest is the body of POST /api/v1/scans.
type StartScanRequest struct {
	Target string `json:"target" validate:"required,max=253"`
	Ports  string `json:"ports,omitempty" validate:"omitempty,max=11"`
	Save   bool   `json:"save,omitempty"`
}

// ScanStartedResponse acknowledges an accepted scan.
type ScanStartedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Target string `json:"target"`
	Ports  string `json:"ports"`
	Save   bool   `json:"save,omitempty"`
}

// PortResultResponse is one port of a result set.
type PortResultResponse struct {
	Port        int    `json:"port"`
	State       string `json:"state"`
	Service     string `json:"service"`
	Description string `json:"description"`
}

// ScanResultResponse describes a finished scan, live or from history.
type ScanResultResponse struct {
	ID         string               `json:"id"`
	Target     string               `json:"target"`
	Ports      string               `json:"ports"`
	Status     string               `json:"status"`
	Error      string               `json:"error,omitempty"`
	PortCount  int                  `json:"port_count"`
	OpenCount  int                  `json:"open_count"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Duration   string               `json:"duration"`
	Results    []PortResultResponse `json:"results,omitempty"`
}

// CurrentScanResponse is the body of GET /api/v1/scans/current.
type CurrentScanResponse struct {
	State  string               `json:"state"`
	Active *ScanStartedResponse `json:"active,omitempty"`
	Last   *ScanResultResponse  `json:"last,omitempty"`
}

// CreateScan handles POST /api/v1/scans. It answers 202 once the scan is
// running; results arrive through /scans/current and the WebSocket.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())

	var body StartScanRequest
	if err := parseJSON(w, r, &body, h.maxRequestSize); err != nil {
		writeCodedError(w, r, err)
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		writeCodedError(w, r, validationError(err))
		return
	}

	ports := body.Ports
	if ports == "" {
		ports = h.defaultPorts
	}
	req, err := scanning.ParseScanRequest(body.Target, ports)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	if body.Save && h.history == nil {
		writeCodedError(w, r, errors.NewScanError(errors.CodeValidation,
			"save requested but scan history is not configured"))
		return
	}

	id, err := h.coordinator.Start(req, scanning.StartOptions{Save: body.Save, Source: SourceAPI})
	if err != nil {
		h.logger.Info("Scan rejected",
			"request_id", requestID,
			"target", req.Target,
			"code", errors.GetCode(err))
		writeCodedError(w, r, err)
		return
	}

	h.logger.InfoScan("Scan accepted", req.Target,
		"request_id", requestID,
		"scan_id", id,
		"ports", req.Ports.String())

	if h.notifier != nil {
		h.notifier.BroadcastScanStarted(id, req)
	}

	w.Header().Set("Location", "/api/v1/scans/current")
	writeJSON(w, r, http.StatusAccepted, ScanStartedResponse{
		ID:     id,
		Status: scanning.StateScanning.String(),
		Target: req.Target,
		Ports:  req.Ports.String(),
		Save:   body.Save,
	})
}

// GetCurrentScan handles GET /api/v1/scans/current. ?open_only=true trims
// the last result set to open ports.
func (h *ScanHandler) GetCurrentScan(w http.ResponseWriter, r *http.Request) {
	snap := h.coordinator.Current()
	openOnly := queryBool(r, "open_only")

	resp := CurrentScanResponse{State: snap.State.String()}
	if snap.Active != nil {
		resp.Active = &ScanStartedResponse{
			ID:     snap.ActiveID,
			Status: snap.State.String(),
			Target: snap.Active.Target,
			Ports:  snap.Active.Ports.String(),
		}
	}
	if snap.Last != nil {
		resp.Last = completionToResponse(snap.Last, openOnly)
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// CancelCurrentScan handles DELETE /api/v1/scans/current.
func (h *ScanHandler) CancelCurrentScan(w http.ResponseWriter, r *http.Request) {
	if !h.coordinator.Cancel() {
		writeCodedError(w, r, errors.NewScanError(errors.CodeNotFound, "no scan is running"))
		return
	}
	h.logger.Info("Scan cancel requested", "request_id", getRequestIDFromContext(r.Context()))
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "canceling"})
}

// ListScans handles GET /api/v1/scans - saved scans, newest first.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w, r) {
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", metrics.StatusCompleted, metrics.StatusCanceled, metrics.StatusFailed:
	default:
		writeCodedError(w, r, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("invalid status filter %q", status)))
		return
	}

	listOp := &ListOperation[*db.ScanRecord, db.ScanFilters]{
		EntityType: "scans",
		Logger:     h.logger,
		GetFilters: func(r *http.Request) db.ScanFilters {
			return db.ScanFilters{
				Target: strings.TrimSpace(r.URL.Query().Get("target")),
				Status: status,
			}
		},
		ListFromDB: h.history.ListScans,
		ToResponse: func(rec *db.ScanRecord) interface{} {
			return recordToResponse(rec, false)
		},
	}
	listOp.Execute(w, r)
}

// GetScan handles GET /api/v1/scans/{id}.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w, r) {
		return
	}
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	openOnly := queryBool(r, "open_only")
	op := &CRUDOperation[db.ScanRecord]{EntityType: "scan", Logger: h.logger}
	op.ExecuteGet(w, r, id, h.history.GetScan, func(rec *db.ScanRecord) interface{} {
		return recordToResponse(rec, openOnly)
	})
}

// DeleteScan handles DELETE /api/v1/scans/{id}.
func (h *ScanHandler) DeleteScan(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w, r) {
		return
	}
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	op := &CRUDOperation[db.ScanRecord]{EntityType: "scan", Logger: h.logger}
	op.ExecuteDelete(w, r, id, h.history.DeleteScan)
}

func (h *ScanHandler) requireHistory(w http.ResponseWriter, r *http.Request) bool {
	if h.history != nil {
		return true
	}
	writeError(w, r, http.StatusServiceUnavailable,
		errors.NewScanError(errors.CodeConfiguration, "scan history requires a database"))
	return false
}

func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// validationError turns validator output into a VALIDATION error naming
// the first offending field.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.WrapScanError(errors.CodeValidation, "invalid request", err)
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())

	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", field)
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", field)
	}
	return errors.NewScanError(errors.CodeValidation, msg).WithContext("field", field)
}

func completionToResponse(c *scanning.Completion, openOnly bool) *ScanResultResponse {
	resp := &ScanResultResponse{
		ID:         c.ID,
		Target:     c.Request.Target,
		Ports:      c.Request.Ports.String(),
		Status:     c.Status(),
		PortCount:  len(c.Results),
		OpenCount:  c.Results.OpenCount(),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		Duration:   c.Duration().String(),
	}
	if c.Err != nil {
		resp.Error = c.Err.Error()
	}

	results := c.Results
	if openOnly {
		results = results.OpenPorts()
	}
	resp.Results = make([]PortResultResponse, 0, len(results))
	for _, p := range results {
		resp.Results = append(resp.Results, PortResultResponse{
			Port:        p.Port,
			State:       p.State(),
			Service:     p.Name,
			Description: p.Description,
		})
	}
	return resp
}

func recordToResponse(rec *db.ScanRecord, openOnly bool) *ScanResultResponse {
	resp := &ScanResultResponse{
		ID:         rec.ID.String(),
		Target:     rec.Target,
		Ports:      rec.Request().Ports.String(),
		Status:     rec.Status,
		PortCount:  rec.PortCount,
		OpenCount:  rec.OpenCount,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Duration:   rec.FinishedAt.Sub(rec.StartedAt).String(),
	}
	if rec.ErrorMessage != nil {
		resp.Error = *rec.ErrorMessage
	}

	for _, p := range rec.Results {
		if openOnly && p.State != db.PortStateOpen {
			continue
		}
		resp.Results = append(resp.Results, PortResultResponse{
			Port:        p.Port,
			State:       p.State,
			Service:     p.ServiceName,
			Description: p.Description,
		})
	}
	return resp
}
