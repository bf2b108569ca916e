// Package handlers provides HTTP request handlers for the PertScan API.
// This file contains common utilities shared across all handlers to reduce
// code duplication and provide consistent patterns.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/freaksdesign/PertScan/internal/api/middleware"
	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
)

const (
	defaultMaxRequestSize = 1024 * 1024
	defaultPage           = 1
	defaultPageSize       = 50
	maxPageSize           = 500
)

// PaginationParams holds pagination parameters.
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"offset"`
}

// PaginatedResponse represents a paginated API response.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination struct {
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		TotalItems int64 `json:"total_items"`
		TotalPages int   `json:"total_pages"`
	} `json:"pagination"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Common utility functions

// getRequestIDFromContext extracts request ID from context.
func getRequestIDFromContext(ctx context.Context) string {
	return middleware.RequestIDFromContext(ctx)
}

// getQueryParamInt extracts integer query parameter with default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	if value := r.URL.Query().Get(key); value != "" {
		return strconv.Atoi(value)
	}
	return defaultValue, nil
}

// extractUUIDFromPath extracts UUID from URL path parameter.
func extractUUIDFromPath(r *http.Request) (uuid.UUID, error) {
	vars := mux.Vars(r)
	idStr, exists := vars["id"]
	if !exists {
		return uuid.Nil, errors.NewScanError(errors.CodeValidation, "id not provided")
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid id: %s", idStr))
	}

	return id, nil
}

// Pagination utilities

// getPaginationParams extracts pagination parameters from request.
func getPaginationParams(r *http.Request) (PaginationParams, error) {
	page, err := getQueryParamInt(r, "page", defaultPage)
	if err != nil {
		return PaginationParams{}, errors.NewScanError(errors.CodeValidation, "invalid page parameter")
	}

	pageSize, err := getQueryParamInt(r, "page_size", defaultPageSize)
	if err != nil {
		return PaginationParams{}, errors.NewScanError(errors.CodeValidation, "invalid page_size parameter")
	}

	if page < 1 {
		page = defaultPage
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}, nil
}

// Response utilities

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; log and give up.
		logging.Error("Failed to encode JSON response",
			"request_id", getRequestIDFromContext(r.Context()),
			"error", err)
	}
}

// writeError writes an error response. Coded errors contribute their code
// and context.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: getRequestIDFromContext(r.Context()),
	}

	if code := errors.GetCode(err); code != errors.CodeUnknown {
		response.Code = string(code)
	}
	var scanErr *errors.ScanError
	var dbErr *errors.DatabaseError
	switch {
	case errors.As(err, &scanErr):
		response.Message = scanErr.Message
		if len(scanErr.Context) > 0 {
			response.Details = scanErr.Context
		}
	case errors.As(err, &dbErr):
		response.Message = dbErr.Message
	}

	writeJSON(w, r, statusCode, response)
}

// statusForError maps an error code onto an HTTP status.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidRange, errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeScanInProgress, errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeCanceled, errors.CodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeCodedError writes err with the status its code implies.
func writeCodedError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusForError(err), err)
}

// writePaginatedResponse writes a paginated response.
func writePaginatedResponse(
	w http.ResponseWriter,
	r *http.Request,
	data interface{},
	params PaginationParams,
	totalItems int64,
) {
	totalPages := int((totalItems + int64(params.PageSize) - 1) / int64(params.PageSize))

	response := PaginatedResponse{
		Data: data,
	}
	response.Pagination.Page = params.Page
	response.Pagination.PageSize = params.PageSize
	response.Pagination.TotalItems = totalItems
	response.Pagination.TotalPages = totalPages

	writeJSON(w, r, http.StatusOK, response)
}

// Request parsing utilities

// parseJSON parses a JSON request body of at most maxSize bytes into dest.
func parseJSON(w http.ResponseWriter, r *http.Request, dest interface{}, maxSize int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.NewScanError(errors.CodeValidation, "request body is empty")
	}
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.NewScanError(errors.CodeValidation,
				fmt.Sprintf("request body too large (max %d bytes)", maxSize))
		}
		return errors.WrapScanError(errors.CodeValidation, fmt.Sprintf("invalid JSON: %v", err), err)
	}

	return nil
}

// Operation result helpers

// handleDatabaseError handles common database errors and writes appropriate HTTP responses.
func handleDatabaseError(
	w http.ResponseWriter,
	r *http.Request,
	err error,
	operation, entityType string,
	logger *logging.Logger,
) {
	requestID := getRequestIDFromContext(r.Context())

	switch {
	case errors.IsCode(err, errors.CodeNotFound):
		writeError(w, r, http.StatusNotFound, err)
		return
	case errors.IsCode(err, errors.CodeConflict):
		writeError(w, r, http.StatusConflict, err)
		return
	}

	logger.ErrorDatabase(fmt.Sprintf("Failed to %s %s", operation, entityType), err,
		"request_id", requestID)
	writeError(w, r, statusForError(err),
		errors.WrapDatabaseError(errors.GetCode(err), fmt.Sprintf("failed to %s %s", operation, entityType), err))
}

// ListOperation is a generic list operation pattern.
type ListOperation[T any, F any] struct {
	EntityType string
	Logger     *logging.Logger
	GetFilters func(*http.Request) F
	ListFromDB func(context.Context, F, int, int) ([]T, int64, error)
	ToResponse func(T) interface{}
}

// Execute performs a generic list operation.
func (op *ListOperation[T, F]) Execute(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())
	op.Logger.Debug(fmt.Sprintf("Listing %s", op.EntityType), "request_id", requestID)

	params, err := getPaginationParams(r)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	filters := op.GetFilters(r)

	items, total, err := op.ListFromDB(r.Context(), filters, params.Offset, params.PageSize)
	if err != nil {
		handleDatabaseError(w, r, err, "list", op.EntityType, op.Logger)
		return
	}

	responses := make([]interface{}, len(items))
	for i, item := range items {
		responses[i] = op.ToResponse(item)
	}

	writePaginatedResponse(w, r, responses, params, total)
}

// CRUDOperation is a generic get/delete operation pattern.
type CRUDOperation[T any] struct {
	EntityType string
	Logger     *logging.Logger
}

// ExecuteGet performs a generic get operation.
func (op *CRUDOperation[T]) ExecuteGet(
	w http.ResponseWriter,
	r *http.Request,
	id uuid.UUID,
	getFromDB func(context.Context, uuid.UUID) (*T, error),
	toResponse func(*T) interface{},
) {
	requestID := getRequestIDFromContext(r.Context())
	op.Logger.Debug(fmt.Sprintf("Getting %s", op.EntityType), "request_id", requestID, "id", id)

	item, err := getFromDB(r.Context(), id)
	if err != nil {
		handleDatabaseError(w, r, err, "get", op.EntityType, op.Logger)
		return
	}

	writeJSON(w, r, http.StatusOK, toResponse(item))
}

// ExecuteDelete performs a generic delete operation.
func (op *CRUDOperation[T]) ExecuteDelete(
	w http.ResponseWriter,
	r *http.Request,
	id uuid.UUID,
	deleteFromDB func(context.Context, uuid.UUID) error,
) {
	requestID := getRequestIDFromContext(r.Context())

	if err := deleteFromDB(r.Context(), id); err != nil {
		handleDatabaseError(w, r, err, "delete", op.EntityType, op.Logger)
		return
	}

	op.Logger.Info(fmt.Sprintf("%s deleted", op.EntityType),
		"request_id", requestID,
		"id", id)

	w.WriteHeader(http.StatusNoContent)
}
