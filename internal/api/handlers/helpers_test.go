package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/freaksdesign/PertScan/internal/api/middleware"
	"github.com/freaksdesign/PertScan/internal/db"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

const testRequestID = "req-test"

func createTestLogger() *logging.Logger {
	return logging.NewWithWriter(logging.Config{Level: logging.LevelError}, io.Discard)
}

// newTestRequest builds a request carrying a request ID, as the router's
// middleware would.
func newTestRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := context.WithValue(req.Context(), middleware.RequestIDKey, testRequestID)
	return req.WithContext(ctx)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// fakeCoordinator records Start calls and returns canned answers.
type fakeCoordinator struct {
	mu       sync.Mutex
	id       string
	startErr error
	cancelOK bool
	snap     scanning.Snapshot
	started  []scanning.ScanRequest
	opts     []scanning.StartOptions
}

func (f *fakeCoordinator) Start(req scanning.ScanRequest, opts scanning.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	f.opts = append(f.opts, opts)
	return f.id, nil
}

func (f *fakeCoordinator) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelOK
}

func (f *fakeCoordinator) Current() scanning.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// MockScanHistory is a testify mock of ScanHistory.
type MockScanHistory struct {
	mock.Mock
}

func (m *MockScanHistory) GetScan(ctx context.Context, id uuid.UUID) (*db.ScanRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*db.ScanRecord)
	return rec, args.Error(1)
}

func (m *MockScanHistory) ListScans(
	ctx context.Context, filters db.ScanFilters, offset, limit int,
) ([]*db.ScanRecord, int64, error) {
	args := m.Called(ctx, filters, offset, limit)
	recs, _ := args.Get(0).([]*db.ScanRecord)
	return recs, args.Get(1).(int64), args.Error(2)
}

func (m *MockScanHistory) DeleteScan(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeNotifier) BroadcastScanStarted(id string, _ scanning.ScanRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}
