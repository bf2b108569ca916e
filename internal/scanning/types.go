package scanning

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/metrics"
)

const (
	// Port validation constants.
	MinPort                = 1
	MaxPort                = 65535
	expectedPortRangeParts = 2
)

var validate = validator.New()

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Lo int `json:"lo" yaml:"lo" validate:"min=1,max=65535"`
	Hi int `json:"hi" yaml:"hi" validate:"min=1,max=65535,gtefield=Lo"`
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	if r.Hi < r.Lo {
		return 0
	}
	return r.Hi - r.Lo + 1
}

// String formats the range as "lo-hi".
func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// ParsePortRange parses "lo-hi" or a single port "n" (meaning n-n).
// Bounds are checked here as well so callers get INVALID_RANGE early.
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortRange{}, errors.ErrInvalidRange("", "port range is empty")
	}

	parts := strings.Split(s, "-")
	if len(parts) > expectedPortRangeParts {
		return PortRange{}, errors.ErrInvalidRange("", fmt.Sprintf("invalid port range format: %s", s))
	}

	lo, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return PortRange{}, errors.ErrInvalidRange("", fmt.Sprintf("invalid start port: %s", parts[0]))
	}
	hi := lo
	if len(parts) == expectedPortRangeParts {
		hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return PortRange{}, errors.ErrInvalidRange("", fmt.Sprintf("invalid end port: %s", parts[1]))
		}
	}

	r := PortRange{Lo: lo, Hi: hi}
	if err := validateRange("", r); err != nil {
		return PortRange{}, err
	}
	return r, nil
}

// ScanRequest identifies what to scan. Build it with NewScanRequest; the
// value is never modified afterwards.
type ScanRequest struct {
	Target string    `json:"target" yaml:"target" validate:"required,ip|hostname_rfc1123"`
	Ports  PortRange `json:"ports" yaml:"ports"`
}

// NewScanRequest validates and builds a request.
func NewScanRequest(target string, lo, hi int) (ScanRequest, error) {
	req := ScanRequest{
		Target: strings.TrimSpace(target),
		Ports:  PortRange{Lo: lo, Hi: hi},
	}
	if err := req.Validate(); err != nil {
		return ScanRequest{}, err
	}
	return req, nil
}

// ParseScanRequest builds a request from a host and a "lo-hi" range string.
func ParseScanRequest(target, ports string) (ScanRequest, error) {
	r, err := ParsePortRange(ports)
	if err != nil {
		var scanErr *errors.ScanError
		if errors.As(err, &scanErr) {
			scanErr.Target = strings.TrimSpace(target)
		}
		return ScanRequest{}, err
	}
	return NewScanRequest(target, r.Lo, r.Hi)
}

// Validate checks the target and port bounds. Failures carry INVALID_RANGE.
func (r ScanRequest) Validate() error {
	return invalidRange(r.Target, r.Ports, validate.Struct(r))
}

func validateRange(target string, r PortRange) error {
	return invalidRange(target, r, validate.Struct(r))
}

// invalidRange converts a validator error into an INVALID_RANGE scan error.
func invalidRange(target string, r PortRange, err error) error {
	if err == nil {
		return nil
	}
	reason := err.Error()
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		reason = describeFieldError(fieldErrs[0], r)
	}
	return errors.ErrInvalidRange(target, reason).
		WithContext("lo", r.Lo).
		WithContext("hi", r.Hi)
}

func describeFieldError(fe validator.FieldError, r PortRange) string {
	switch {
	case fe.Field() == "Target" && fe.Tag() == "required":
		return "target is required"
	case fe.Field() == "Target":
		return "target must be an IP address or hostname"
	case fe.Tag() == "gtefield":
		return fmt.Sprintf("start port %d exceeds end port %d", r.Lo, r.Hi)
	default:
		return fmt.Sprintf("port %v out of range %d-%d", fe.Value(), MinPort, MaxPort)
	}
}

// PortResult is the outcome of probing one port.
type PortResult struct {
	Target      string `json:"target"`
	Port        int    `json:"port"`
	Open        bool   `json:"open"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// State returns "open" or "closed".
func (p PortResult) State() string {
	if p.Open {
		return "open"
	}
	return "closed"
}

// ResultSet holds one PortResult per port of a range, ascending by port.
type ResultSet []PortResult

// OpenPorts returns the subset of results whose port accepted a connection.
func (rs ResultSet) OpenPorts() ResultSet {
	open := make(ResultSet, 0)
	for _, r := range rs {
		if r.Open {
			open = append(open, r)
		}
	}
	return open
}

// OpenCount returns the number of open ports.
func (rs ResultSet) OpenCount() int {
	n := 0
	for _, r := range rs {
		if r.Open {
			n++
		}
	}
	return n
}

// Completion is what a finished scan hands back through the session.
// Exactly one of Results or Err is meaningful.
type Completion struct {
	ID         string      `json:"id"`
	Request    ScanRequest `json:"request"`
	Results    ResultSet   `json:"results,omitempty"`
	Err        error       `json:"-"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Duration returns how long the scan ran.
func (c *Completion) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// Status returns the metrics status for the completion.
func (c *Completion) Status() string {
	switch {
	case c.Err == nil:
		return metrics.StatusCompleted
	case errors.IsCode(c.Err, errors.CodeCanceled):
		return metrics.StatusCanceled
	default:
		return metrics.StatusFailed
	}
}
