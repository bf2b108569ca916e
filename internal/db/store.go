package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

const (
	// portResultBatchSize keeps each multi-row insert well under the
	// PostgreSQL bind parameter limit.
	portResultBatchSize = 1000

	// DefaultListLimit is the page size used when none is given.
	DefaultListLimit = 50
	// MaxListLimit caps the page size of ListScans.
	MaxListLimit = 500
)

const (
	insertScanQuery = `
		INSERT INTO scans (
			id, target, port_lo, port_hi, status, error_message,
			port_count, open_count, started_at, finished_at
		)
		VALUES (
			:id, :target, :port_lo, :port_hi, :status, :error_message,
			:port_count, :open_count, :started_at, :finished_at
		)`

	insertPortResultsQuery = `
		INSERT INTO port_results (scan_id, port, state, service_name, description)
		VALUES (:scan_id, :port, :state, :service_name, :description)`

	selectScanColumns = `
		SELECT id, target, port_lo, port_hi, status, error_message,
			port_count, open_count, started_at, finished_at, created_at
		FROM scans`

	selectPortResultsQuery = `
		SELECT scan_id, port, state, service_name, description
		FROM port_results
		WHERE scan_id = $1
		ORDER BY port`
)

// QueryRecorder receives the outcome of each store operation.
type QueryRecorder interface {
	RecordDatabaseQuery(operation string, duration time.Duration, success bool)
}

// ScanFilters narrows ListScans. Empty fields match everything.
type ScanFilters struct {
	Target string
	Status string
}

// ScanStore saves finished scans and loads them back.
type ScanStore struct {
	db      *DB
	metrics QueryRecorder
	logger  *logging.Logger
}

// StoreOption configures a ScanStore.
type StoreOption func(*ScanStore)

// WithQueryRecorder reports each operation to r.
func WithQueryRecorder(r QueryRecorder) StoreOption {
	return func(s *ScanStore) { s.metrics = r }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *logging.Logger) StoreOption {
	return func(s *ScanStore) { s.logger = l }
}

// NewScanStore creates a store on db.
func NewScanStore(db *DB, opts ...StoreOption) *ScanStore {
	s := &ScanStore{db: db, logger: logging.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("store")
	return s
}

func (s *ScanStore) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDatabaseQuery(operation, time.Since(start), err == nil)
	}
}

// SaveScan writes a completion and its port rows in one transaction.
func (s *ScanStore) SaveScan(ctx context.Context, c *scanning.Completion) (*ScanRecord, error) {
	rec, err := NewScanRecord(c)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeValidation, "Invalid scan record", err)
	}

	start := time.Now()
	err = s.insert(ctx, rec)
	s.observe("save_scan", start, err)
	if err != nil {
		s.logger.ErrorDatabase("Failed to save scan", err, "scan_id", rec.ID)
		return nil, err
	}

	s.logger.InfoDatabase("Scan saved",
		"scan_id", rec.ID,
		"target", rec.Target,
		"ports", rec.PortCount,
		"open", rec.OpenCount)
	return rec, nil
}

func (s *ScanStore) insert(ctx context.Context, rec *ScanRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, insertScanQuery, rec); err != nil {
		return sanitizeDBError("insert scan", err)
	}

	for i := 0; i < len(rec.Results); i += portResultBatchSize {
		end := min(i+portResultBatchSize, len(rec.Results))
		if _, err := tx.NamedExecContext(ctx, insertPortResultsQuery, rec.Results[i:end]); err != nil {
			return sanitizeDBError("insert port results", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit transaction", err)
	}
	return nil
}

// GetScan loads one scan with its port rows ordered by port.
func (s *ScanStore) GetScan(ctx context.Context, id uuid.UUID) (*ScanRecord, error) {
	start := time.Now()
	rec, err := s.getScan(ctx, id)
	s.observe("get_scan", start, err)
	return rec, err
}

func (s *ScanStore) getScan(ctx context.Context, id uuid.UUID) (*ScanRecord, error) {
	var rec ScanRecord
	if err := s.db.GetContext(ctx, &rec, selectScanColumns+" WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewDatabaseError(errors.CodeNotFound, fmt.Sprintf("Scan %s not found", id))
		}
		return nil, sanitizeDBError("get scan", err)
	}

	if err := s.db.SelectContext(ctx, &rec.Results, selectPortResultsQuery, id); err != nil {
		return nil, sanitizeDBError("get port results", err)
	}
	return &rec, nil
}

// filterCondition represents a single filter condition
type filterCondition struct {
	column string
	value  interface{}
}

// buildWhereClause creates WHERE clause and args from conditions
func buildWhereClause(conditions []filterCondition) (whereClause string, args []interface{}) {
	if len(conditions) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(conditions))
	for i, condition := range conditions {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", condition.column, i+1))
		args = append(args, condition.value)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func buildScanFilters(filters ScanFilters) (whereClause string, args []interface{}) {
	var conditions []filterCondition

	if filters.Target != "" {
		conditions = append(conditions, filterCondition{"target", filters.Target})
	}
	if filters.Status != "" {
		conditions = append(conditions, filterCondition{"status", filters.Status})
	}

	return buildWhereClause(conditions)
}

// ListScans returns scans newest first without their port rows, plus the
// total number of scans matching filters.
func (s *ScanStore) ListScans(ctx context.Context, filters ScanFilters, offset, limit int) ([]*ScanRecord, int64, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	start := time.Now()
	records, total, err := s.listScans(ctx, filters, offset, limit)
	s.observe("list_scans", start, err)
	return records, total, err
}

func (s *ScanStore) listScans(ctx context.Context, filters ScanFilters, offset, limit int) ([]*ScanRecord, int64, error) {
	whereClause, args := buildScanFilters(filters)

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM scans "+whereClause, args...); err != nil {
		return nil, 0, sanitizeDBError("count scans", err)
	}

	argIndex := len(args)
	listQuery := fmt.Sprintf("%s %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d",
		selectScanColumns, whereClause, argIndex+1, argIndex+2)
	args = append(args, limit, offset)

	records := make([]*ScanRecord, 0)
	if err := s.db.SelectContext(ctx, &records, listQuery, args...); err != nil {
		return nil, 0, sanitizeDBError("list scans", err)
	}
	return records, total, nil
}

// DeleteScan removes a scan and, by cascade, its port rows.
func (s *ScanStore) DeleteScan(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := s.deleteScan(ctx, id)
	s.observe("delete_scan", start, err)
	return err
}

func (s *ScanStore) deleteScan(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scans WHERE id = $1", id)
	if err != nil {
		return sanitizeDBError("delete scan", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sanitizeDBError("delete scan", err)
	}
	if n == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, fmt.Sprintf("Scan %s not found", id))
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *ScanStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
