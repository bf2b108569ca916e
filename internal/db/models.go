package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freaksdesign/PertScan/internal/scanning"
)

// Port states as stored in port_results.state.
const (
	PortStateOpen   = "open"
	PortStateClosed = "closed"
)

// ScanRecord is one row of the scans table, optionally with its port rows.
type ScanRecord struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Target       string     `db:"target" json:"target"`
	PortLo       int        `db:"port_lo" json:"port_lo"`
	PortHi       int        `db:"port_hi" json:"port_hi"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	PortCount    int        `db:"port_count" json:"port_count"`
	OpenCount    int        `db:"open_count" json:"open_count"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	FinishedAt   time.Time  `db:"finished_at" json:"finished_at"`
	CreatedAt    *time.Time `db:"created_at" json:"created_at,omitempty"`

	Results []PortResultRecord `db:"-" json:"results,omitempty"`
}

// PortResultRecord is one row of the port_results table.
type PortResultRecord struct {
	ScanID      uuid.UUID `db:"scan_id" json:"-"`
	Port        int       `db:"port" json:"port"`
	State       string    `db:"state" json:"state"`
	ServiceName string    `db:"service_name" json:"service_name"`
	Description string    `db:"description" json:"description"`
}

// NewScanRecord converts a finished scan into its stored form. Failed and
// canceled scans keep their error message and carry no port rows.
func NewScanRecord(c *scanning.Completion) (*ScanRecord, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid scan id %q: %w", c.ID, err)
	}

	rec := &ScanRecord{
		ID:         id,
		Target:     c.Request.Target,
		PortLo:     c.Request.Ports.Lo,
		PortHi:     c.Request.Ports.Hi,
		Status:     c.Status(),
		PortCount:  len(c.Results),
		OpenCount:  c.Results.OpenCount(),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
	}
	if c.Err != nil {
		msg := c.Err.Error()
		rec.ErrorMessage = &msg
		return rec, nil
	}

	rec.Results = make([]PortResultRecord, 0, len(c.Results))
	for _, r := range c.Results {
		rec.Results = append(rec.Results, PortResultRecord{
			ScanID:      id,
			Port:        r.Port,
			State:       r.State(),
			ServiceName: r.Name,
			Description: r.Description,
		})
	}
	return rec, nil
}

// Request returns the scan request the record was made from.
func (r *ScanRecord) Request() scanning.ScanRequest {
	return scanning.ScanRequest{
		Target: r.Target,
		Ports:  scanning.PortRange{Lo: r.PortLo, Hi: r.PortHi},
	}
}

// ResultSet rebuilds the ordered result set from the loaded port rows.
func (r *ScanRecord) ResultSet() scanning.ResultSet {
	rs := make(scanning.ResultSet, 0, len(r.Results))
	for _, p := range r.Results {
		rs = append(rs, scanning.PortResult{
			Target:      r.Target,
			Port:        p.Port,
			Open:        p.State == PortStateOpen,
			Name:        p.ServiceName,
			Description: p.Description,
		})
	}
	return rs
}
