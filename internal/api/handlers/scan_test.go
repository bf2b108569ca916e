package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

const testScanID = "3f1c2b9e-8a55-4e4a-9b2b-0c6f1d2e3a4b"

func newTestScanHandler(coord ScanCoordinator, history ScanHistory, notifier ScanNotifier) *ScanHandler {
	return NewScanHandler(coord, history, notifier, createTestLogger(), "1-1023", 0)
}

func sampleRecord() *db.ScanRecord {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return &db.ScanRecord{
		ID:         uuid.MustParse(testScanID),
		Target:     "127.0.0.1",
		PortLo:     1,
		PortHi:     3,
		Status:     "completed",
		PortCount:  3,
		OpenCount:  1,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Results: []db.PortResultRecord{
			{Port: 1, State: db.PortStateClosed, ServiceName: "tcpmux", Description: "TCP Port Service Multiplexer"},
			{Port: 2, State: db.PortStateClosed, ServiceName: "not available", Description: "not available"},
			{Port: 3, State: db.PortStateOpen, ServiceName: "not available", Description: "not available"},
		},
	}
}

func TestCreateScan(t *testing.T) {
	coord := &fakeCoordinator{id: testScanID}
	notifier := &fakeNotifier{}
	h := newTestScanHandler(coord, &MockScanHistory{}, notifier)

	rec := httptest.NewRecorder()
	h.CreateScan(rec, newTestRequest(http.MethodPost, "/api/v1/scans",
		`{"target":"127.0.0.1","ports":"1-5","save":true}`))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/scans/current", rec.Header().Get("Location"))

	body := decodeBody[ScanStartedResponse](t, rec)
	assert.Equal(t, ScanStartedResponse{
		ID:     testScanID,
		Status: "scanning",
		Target: "127.0.0.1",
		Ports:  "1-5",
		Save:   true,
	}, body)

	require.Len(t, coord.started, 1)
	assert.Equal(t, scanning.PortRange{Lo: 1, Hi: 5}, coord.started[0].Ports)
	assert.Equal(t, scanning.StartOptions{Save: true, Source: SourceAPI}, coord.opts[0])
	assert.Equal(t, []string{testScanID}, notifier.ids)
}

func TestCreateScanDefaults(t *testing.T) {
	coord := &fakeCoordinator{id: testScanID}
	h := newTestScanHandler(coord, nil, nil)

	rec := httptest.NewRecorder()
	h.CreateScan(rec, newTestRequest(http.MethodPost, "/api/v1/scans", `{"target":"localhost"}`))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, coord.started, 1)
	assert.Equal(t, scanning.PortRange{Lo: 1, Hi: 1023}, coord.started[0].Ports)
	assert.False(t, coord.opts[0].Save)
}

func TestCreateScanRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		history  ScanHistory
		startErr error
		status   int
		code     string
	}{
		{"inverted range", `{"target":"127.0.0.1","ports":"100-50"}`, nil, nil,
			http.StatusBadRequest, "INVALID_RANGE"},
		{"port out of range", `{"target":"127.0.0.1","ports":"0-10"}`, nil, nil,
			http.StatusBadRequest, "INVALID_RANGE"},
		{"bad host", `{"target":"not a host!","ports":"1-10"}`, nil, nil,
			http.StatusBadRequest, "INVALID_RANGE"},
		{"missing target", `{"ports":"1-10"}`, nil, nil,
			http.StatusBadRequest, "VALIDATION"},
		{"unknown field", `{"target":"h","profile":"x"}`, nil, nil,
			http.StatusBadRequest, "VALIDATION"},
		{"save without history", `{"target":"127.0.0.1","save":true}`, nil, nil,
			http.StatusBadRequest, "VALIDATION"},
		{"session busy", `{"target":"127.0.0.1"}`, nil, errors.ErrScanInProgress("127.0.0.1"),
			http.StatusConflict, "SCAN_IN_PROGRESS"},
		{"shutting down", `{"target":"127.0.0.1"}`, nil, errors.ErrScanCanceled("127.0.0.1", nil),
			http.StatusServiceUnavailable, "CANCELED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &fakeCoordinator{id: testScanID, startErr: tt.startErr}
			notifier := &fakeNotifier{}
			h := newTestScanHandler(coord, tt.history, notifier)

			rec := httptest.NewRecorder()
			h.CreateScan(rec, newTestRequest(http.MethodPost, "/api/v1/scans", tt.body))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Empty(t, coord.started)
			assert.Empty(t, notifier.ids)
		})
	}
}

func TestGetCurrentScan(t *testing.T) {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	last := &scanning.Completion{
		ID:      "last-id",
		Request: scanning.ScanRequest{Target: "127.0.0.1", Ports: scanning.PortRange{Lo: 1, Hi: 3}},
		Results: scanning.ResultSet{
			{Target: "127.0.0.1", Port: 1, Name: "tcpmux", Description: "TCP Port Service Multiplexer"},
			{Target: "127.0.0.1", Port: 2, Name: "not available", Description: "not available"},
			{Target: "127.0.0.1", Port: 3, Open: true, Name: "not available", Description: "not available"},
		},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
	active := scanning.ScanRequest{Target: "10.0.0.5", Ports: scanning.PortRange{Lo: 20, Hi: 25}}
	coord := &fakeCoordinator{snap: scanning.Snapshot{
		State:    scanning.StateScanning,
		ActiveID: "active-id",
		Active:   &active,
		Last:     last,
	}}
	h := newTestScanHandler(coord, nil, nil)

	t.Run("full result set", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetCurrentScan(rec, newTestRequest(http.MethodGet, "/api/v1/scans/current", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[CurrentScanResponse](t, rec)
		assert.Equal(t, "scanning", body.State)
		require.NotNil(t, body.Active)
		assert.Equal(t, "active-id", body.Active.ID)
		assert.Equal(t, "20-25", body.Active.Ports)

		require.NotNil(t, body.Last)
		assert.Equal(t, "completed", body.Last.Status)
		assert.Equal(t, 3, body.Last.PortCount)
		assert.Equal(t, 1, body.Last.OpenCount)
		assert.Equal(t, "1s", body.Last.Duration)
		require.Len(t, body.Last.Results, 3)
		assert.Equal(t, PortResultResponse{
			Port: 1, State: "closed", Service: "tcpmux", Description: "TCP Port Service Multiplexer",
		}, body.Last.Results[0])
	})

	t.Run("open only", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetCurrentScan(rec, newTestRequest(http.MethodGet, "/api/v1/scans/current?open_only=true", ""))

		body := decodeBody[CurrentScanResponse](t, rec)
		require.Len(t, body.Last.Results, 1)
		assert.Equal(t, 3, body.Last.Results[0].Port)
		assert.Equal(t, "open", body.Last.Results[0].State)
	})

	t.Run("idle with nothing collected", func(t *testing.T) {
		idle := newTestScanHandler(&fakeCoordinator{}, nil, nil)
		rec := httptest.NewRecorder()
		idle.GetCurrentScan(rec, newTestRequest(http.MethodGet, "/api/v1/scans/current", ""))

		body := decodeBody[CurrentScanResponse](t, rec)
		assert.Equal(t, "idle", body.State)
		assert.Nil(t, body.Active)
		assert.Nil(t, body.Last)
	})
}

func TestGetCurrentScanFailedCompletion(t *testing.T) {
	coord := &fakeCoordinator{snap: scanning.Snapshot{
		State: scanning.StateIdle,
		Last: &scanning.Completion{
			ID:      "c",
			Request: scanning.ScanRequest{Target: "h", Ports: scanning.PortRange{Lo: 1, Hi: 2}},
			Err:     errors.ErrScanCanceled("h", nil),
		},
	}}
	h := newTestScanHandler(coord, nil, nil)

	rec := httptest.NewRecorder()
	h.GetCurrentScan(rec, newTestRequest(http.MethodGet, "/api/v1/scans/current", ""))

	body := decodeBody[CurrentScanResponse](t, rec)
	require.NotNil(t, body.Last)
	assert.Equal(t, "canceled", body.Last.Status)
	assert.Contains(t, body.Last.Error, "CANCELED")
	assert.Empty(t, body.Last.Results)
}

func TestCancelCurrentScan(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestScanHandler(&fakeCoordinator{cancelOK: true}, nil, nil).
		CancelCurrentScan(rec, newTestRequest(http.MethodDelete, "/api/v1/scans/current", ""))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	newTestScanHandler(&fakeCoordinator{}, nil, nil).
		CancelCurrentScan(rec, newTestRequest(http.MethodDelete, "/api/v1/scans/current", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListScans(t *testing.T) {
	history := &MockScanHistory{}
	history.On("ListScans", mock.Anything, db.ScanFilters{Target: "127.0.0.1", Status: "completed"}, 10, 10).
		Return([]*db.ScanRecord{sampleRecord()}, int64(11), nil)
	h := newTestScanHandler(&fakeCoordinator{}, history, nil)

	rec := httptest.NewRecorder()
	h.ListScans(rec, newTestRequest(http.MethodGet,
		"/api/v1/scans?target=127.0.0.1&status=completed&page=2&page_size=10", ""))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	type listBody struct {
		Data       []ScanResultResponse `json:"data"`
		Pagination struct {
			TotalItems int64 `json:"total_items"`
			TotalPages int   `json:"total_pages"`
		} `json:"pagination"`
	}
	body := decodeBody[listBody](t, rec)
	require.Len(t, body.Data, 1)
	assert.Equal(t, testScanID, body.Data[0].ID)
	assert.Equal(t, "1-3", body.Data[0].Ports)
	assert.Equal(t, int64(11), body.Pagination.TotalItems)
	assert.Equal(t, 2, body.Pagination.TotalPages)
	history.AssertExpectations(t)
}

func TestListScansErrors(t *testing.T) {
	t.Run("bad status filter", func(t *testing.T) {
		history := &MockScanHistory{}
		h := newTestScanHandler(&fakeCoordinator{}, history, nil)
		rec := httptest.NewRecorder()
		h.ListScans(rec, newTestRequest(http.MethodGet, "/api/v1/scans?status=running", ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		history.AssertNotCalled(t, "ListScans", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("database failure", func(t *testing.T) {
		history := &MockScanHistory{}
		history.On("ListScans", mock.Anything, mock.Anything, 0, defaultPageSize).
			Return(nil, int64(0), errors.ErrDatabaseConnection(fmt.Errorf("dial tcp: refused")))
		h := newTestScanHandler(&fakeCoordinator{}, history, nil)
		rec := httptest.NewRecorder()
		h.ListScans(rec, newTestRequest(http.MethodGet, "/api/v1/scans", ""))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, "DATABASE_CONNECTION", body.Code)
		assert.Equal(t, "failed to list scans", body.Message)
	})

	t.Run("no database", func(t *testing.T) {
		h := newTestScanHandler(&fakeCoordinator{}, nil, nil)
		rec := httptest.NewRecorder()
		h.ListScans(rec, newTestRequest(http.MethodGet, "/api/v1/scans", ""))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "CONFIGURATION", decodeBody[ErrorResponse](t, rec).Code)
	})
}

func TestGetScan(t *testing.T) {
	id := uuid.MustParse(testScanID)

	t.Run("found", func(t *testing.T) {
		history := &MockScanHistory{}
		history.On("GetScan", mock.Anything, id).Return(sampleRecord(), nil)
		h := newTestScanHandler(&fakeCoordinator{}, history, nil)

		req := mux.SetURLVars(newTestRequest(http.MethodGet, "/api/v1/scans/"+testScanID+"?open_only=1", ""),
			map[string]string{"id": testScanID})
		rec := httptest.NewRecorder()
		h.GetScan(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[ScanResultResponse](t, rec)
		assert.Equal(t, "127.0.0.1", body.Target)
		assert.Equal(t, "2s", body.Duration)
		require.Len(t, body.Results, 1)
		assert.Equal(t, 3, body.Results[0].Port)
		history.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		history := &MockScanHistory{}
		history.On("GetScan", mock.Anything, id).
			Return(nil, errors.NewDatabaseError(errors.CodeNotFound, "Scan "+testScanID+" not found"))
		h := newTestScanHandler(&fakeCoordinator{}, history, nil)

		req := mux.SetURLVars(newTestRequest(http.MethodGet, "/", ""), map[string]string{"id": testScanID})
		rec := httptest.NewRecorder()
		h.GetScan(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("bad id", func(t *testing.T) {
		history := &MockScanHistory{}
		h := newTestScanHandler(&fakeCoordinator{}, history, nil)

		req := mux.SetURLVars(newTestRequest(http.MethodGet, "/", ""), map[string]string{"id": "42"})
		rec := httptest.NewRecorder()
		h.GetScan(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		history.AssertNotCalled(t, "GetScan", mock.Anything, mock.Anything)
	})
}

func TestDeleteScan(t *testing.T) {
	id := uuid.MustParse(testScanID)
	history := &MockScanHistory{}
	history.On("DeleteScan", mock.Anything, id).Return(nil).Once()
	history.On("DeleteScan", mock.Anything, id).
		Return(errors.NewDatabaseError(errors.CodeNotFound, "Scan not found")).Once()
	h := newTestScanHandler(&fakeCoordinator{}, history, nil)

	req := mux.SetURLVars(newTestRequest(http.MethodDelete, "/", ""), map[string]string{"id": testScanID})
	rec := httptest.NewRecorder()
	h.DeleteScan(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.DeleteScan(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	history.AssertExpectations(t)
}
