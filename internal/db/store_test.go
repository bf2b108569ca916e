package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

// MockQueryRecorder records store operations.
type MockQueryRecorder struct {
	mock.Mock
}

func (m *MockQueryRecorder) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	m.Called(operation, duration, success)
}

var scanColumns = []string{
	"id", "target", "port_lo", "port_hi", "status", "error_message",
	"port_count", "open_count", "started_at", "finished_at", "created_at",
}

var portResultColumns = []string{"scan_id", "port", "state", "service_name", "description"}

func newTestStore(t *testing.T) (*ScanStore, sqlmock.Sqlmock, *MockQueryRecorder) {
	t.Helper()
	db, sqlMock := newMockDB(t)
	recorder := &MockQueryRecorder{}
	store := NewScanStore(db, WithQueryRecorder(recorder), WithStoreLogger(quietLogger()))
	return store, sqlMock, recorder
}

func TestScanStoreSaveScan(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)
	c := sampleCompletion()
	id := uuid.MustParse(c.ID)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("INSERT INTO scans").
		WithArgs(id, "127.0.0.1", 1, 3, "completed", nil, 3, 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectExec("INSERT INTO port_results").
		WithArgs(
			id, 1, "closed", "tcpmux", "TCP Port Service Multiplexer",
			id, 2, "closed", "not available", "not available",
			id, 3, "open", "not available", "not available",
		).
		WillReturnResult(sqlmock.NewResult(0, 3))
	sqlMock.ExpectCommit()
	recorder.On("RecordDatabaseQuery", "save_scan", mock.Anything, true).Once()

	rec, err := store.SaveScan(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, 1, rec.OpenCount)

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	recorder.AssertExpectations(t)
}

func TestScanStoreSaveScanBatchesPortRows(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)

	start := time.Now()
	results := make(scanning.ResultSet, 0, 2500)
	for port := 1; port <= 2500; port++ {
		results = append(results, scanning.PortResult{Target: "10.0.0.1", Port: port, Name: "x", Description: "y"})
	}
	c := &scanning.Completion{
		ID:         uuid.NewString(),
		Request:    scanning.ScanRequest{Target: "10.0.0.1", Ports: scanning.PortRange{Lo: 1, Hi: 2500}},
		Results:    results,
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("INSERT INTO scans").WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectExec("INSERT INTO port_results").WillReturnResult(sqlmock.NewResult(0, 1000))
	sqlMock.ExpectExec("INSERT INTO port_results").WillReturnResult(sqlmock.NewResult(0, 1000))
	sqlMock.ExpectExec("INSERT INTO port_results").WillReturnResult(sqlmock.NewResult(0, 500))
	sqlMock.ExpectCommit()
	recorder.On("RecordDatabaseQuery", "save_scan", mock.Anything, true).Once()

	_, err := store.SaveScan(context.Background(), c)
	require.NoError(t, err)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestScanStoreSaveCanceledScan(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)
	c := sampleCompletion()
	c.Results = nil
	c.Err = errors.ErrScanCanceled("127.0.0.1", context.Canceled)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("INSERT INTO scans").
		WithArgs(sqlmock.AnyArg(), "127.0.0.1", 1, 3, "canceled", sqlmock.AnyArg(), 0, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectCommit()
	recorder.On("RecordDatabaseQuery", "save_scan", mock.Anything, true).Once()

	rec, err := store.SaveScan(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "canceled", rec.Status)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestScanStoreSaveScanRollsBack(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("INSERT INTO scans").WillReturnError(&pq.Error{Code: "23505"})
	sqlMock.ExpectRollback()
	recorder.On("RecordDatabaseQuery", "save_scan", mock.Anything, false).Once()

	rec, err := store.SaveScan(context.Background(), sampleCompletion())
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, errors.IsCode(err, errors.CodeConflict))

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	recorder.AssertExpectations(t)
}

func TestScanStoreSaveScanInvalidID(t *testing.T) {
	store, sqlMock, _ := newTestStore(t)
	c := sampleCompletion()
	c.ID = "bogus"

	_, err := store.SaveScan(context.Background(), c)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestScanStoreGetScan(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	sqlMock.ExpectQuery("FROM scans WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(scanColumns).
			AddRow(id.String(), "127.0.0.1", 1, 3, "completed", nil, 3, 1, now, now, now))
	sqlMock.ExpectQuery("FROM port_results WHERE scan_id = \\$1 ORDER BY port").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(portResultColumns).
			AddRow(id.String(), 1, "closed", "tcpmux", "TCP Port Service Multiplexer").
			AddRow(id.String(), 2, "closed", "not available", "not available").
			AddRow(id.String(), 3, "open", "not available", "not available"))
	recorder.On("RecordDatabaseQuery", "get_scan", mock.Anything, true).Once()

	rec, err := store.GetScan(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "127.0.0.1", rec.Target)
	require.NotNil(t, rec.CreatedAt)

	rs := rec.ResultSet()
	require.Len(t, rs, 3)
	assert.Equal(t, 1, rs.OpenCount())
	assert.True(t, rs[2].Open)
	assert.Equal(t, "tcpmux", rs[0].Name)

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	recorder.AssertExpectations(t)
}

func TestScanStoreGetScanNotFound(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)
	id := uuid.New()

	sqlMock.ExpectQuery("FROM scans WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(scanColumns))
	recorder.On("RecordDatabaseQuery", "get_scan", mock.Anything, false).Once()

	rec, err := store.GetScan(context.Background(), id)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestScanStoreListScans(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)
	now := time.Now().UTC()

	sqlMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM scans WHERE target = \\$1").
		WithArgs("127.0.0.1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	sqlMock.ExpectQuery("FROM scans WHERE target = \\$1 ORDER BY started_at DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs("127.0.0.1", DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows(scanColumns).
			AddRow(uuid.NewString(), "127.0.0.1", 1, 1023, "completed", nil, 1023, 2, now, now, now).
			AddRow(uuid.NewString(), "127.0.0.1", 1, 10, "canceled", "[CANCELED] Scan was canceled", 0, 0, now, now, now))
	recorder.On("RecordDatabaseQuery", "list_scans", mock.Anything, true).Once()

	records, total, err := store.ListScans(context.Background(), ScanFilters{Target: "127.0.0.1"}, -5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].OpenCount)
	require.NotNil(t, records[1].ErrorMessage)
	assert.Empty(t, records[0].Results)

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	recorder.AssertExpectations(t)
}

func TestScanStoreListScansCapsLimit(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)

	sqlMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM scans").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	sqlMock.ExpectQuery("FROM scans ORDER BY started_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(MaxListLimit, 20).
		WillReturnRows(sqlmock.NewRows(scanColumns))
	recorder.On("RecordDatabaseQuery", "list_scans", mock.Anything, true).Once()

	records, total, err := store.ListScans(context.Background(), ScanFilters{}, 20, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestScanStoreDeleteScan(t *testing.T) {
	store, sqlMock, recorder := newTestStore(t)
	id := uuid.New()
	recorder.On("RecordDatabaseQuery", "delete_scan", mock.Anything, true).Once()
	recorder.On("RecordDatabaseQuery", "delete_scan", mock.Anything, false).Once()

	sqlMock.ExpectExec("DELETE FROM scans WHERE id = \\$1").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteScan(context.Background(), id))

	sqlMock.ExpectExec("DELETE FROM scans WHERE id = \\$1").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.DeleteScan(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	recorder.AssertExpectations(t)
}

func TestBuildScanFilters(t *testing.T) {
	where, args := buildScanFilters(ScanFilters{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildScanFilters(ScanFilters{Target: "h", Status: "completed"})
	assert.Equal(t, "WHERE target = $1 AND status = $2", where)
	assert.Equal(t, []interface{}{"h", "completed"}, args)
}
