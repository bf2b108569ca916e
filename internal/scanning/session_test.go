package scanning

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/metrics"
	"github.com/freaksdesign/PertScan/internal/metrics/mocks"
)

func newTestSession(scanner Scanner, opts ...SessionOption) *Session {
	return NewSession(scanner, append([]SessionOption{WithSessionLogger(quietLogger())}, opts...)...)
}

// pollUntil polls s until a completion arrives or the deadline passes.
func pollUntil(t *testing.T, s *Session) *Completion {
	t.Helper()
	var c *Completion
	require.Eventually(t, func() bool {
		var ok bool
		c, ok = s.Poll()
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	return c
}

func TestSessionLifecycle(t *testing.T) {
	scanner := newGateScanner()
	s := newTestSession(scanner)
	defer s.Close()

	assert.Equal(t, StateIdle, s.State())
	_, _, active := s.Active()
	assert.False(t, active)

	req := mustRequest("127.0.0.1", 1, 5)
	id, err := s.Start(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, StateScanning, s.State())
	activeReq, activeID, active := s.Active()
	assert.True(t, active)
	assert.Equal(t, req, activeReq)
	assert.Equal(t, id, activeID)

	c, ok := s.Poll()
	assert.False(t, ok, "poll must not report a running scan")
	assert.Nil(t, c)

	scanner.Open()
	require.Eventually(t, func() bool { return s.State() == StateCompleted }, 5*time.Second, 5*time.Millisecond)

	c = pollUntil(t, s)
	require.NoError(t, c.Err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, req, c.Request)
	assert.Len(t, c.Results, 5)
	assert.False(t, c.FinishedAt.Before(c.StartedAt))

	assert.Equal(t, StateIdle, s.State())
	_, ok = s.Poll()
	assert.False(t, ok, "a completion is delivered only once")
}

func TestSessionRejectsConcurrentStart(t *testing.T) {
	scanner := newGateScanner()
	s := newTestSession(scanner)
	defer s.Close()

	_, err := s.Start(context.Background(), mustRequest("10.0.0.1", 1, 1023))
	require.NoError(t, err)

	_, err = s.Start(context.Background(), mustRequest("10.0.0.2", 80, 80))
	require.Error(t, err)

	var scanErr *errors.ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, errors.CodeScanInProgress, scanErr.Code)
	assert.Equal(t, "10.0.0.1", scanErr.Context["active_target"])
	assert.Equal(t, "1-1023", scanErr.Context["active_ports"])

	// The running scan is unaffected.
	activeReq, _, _ := s.Active()
	assert.Equal(t, "10.0.0.1", activeReq.Target)

	scanner.Open()
	c := pollUntil(t, s)
	assert.Equal(t, "10.0.0.1", c.Request.Target)

	// Once the first scan has been delivered, the rejected Start must not
	// have launched a second one.
	assert.Equal(t, int32(1), scanner.calls.Load())
	_, ok := s.Poll()
	assert.False(t, ok)
}

func TestSessionRejectsInvalidRequest(t *testing.T) {
	scanner := newGateScanner()
	s := newTestSession(scanner)

	_, err := s.Start(context.Background(), ScanRequest{Target: "127.0.0.1", Ports: PortRange{Lo: 100, Hi: 50}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidRange))

	_, err = s.Start(context.Background(), ScanRequest{Ports: PortRange{Lo: 1, Hi: 5}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidRange))

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, int32(0), scanner.calls.Load(), "the scanner must not run for a rejected request")
}

func TestSessionDeliversExactlyOnce(t *testing.T) {
	scanner := newGateScanner()
	s := newTestSession(scanner)
	defer s.Close()

	_, err := s.Start(context.Background(), mustRequest("127.0.0.1", 1, 10))
	require.NoError(t, err)

	var delivered atomic.Int32
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, ok := s.Poll(); ok {
					delivered.Add(1)
				}
			}
		}()
	}

	scanner.Open()
	require.Eventually(t, func() bool { return delivered.Load() > 0 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, int32(1), delivered.Load())
}

func TestSessionStartDiscardsUncollectedResult(t *testing.T) {
	scanner := newGateScanner()
	scanner.Open()
	s := newTestSession(scanner)
	defer s.Close()

	firstID, err := s.Start(context.Background(), mustRequest("10.0.0.1", 1, 3))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == StateCompleted }, 5*time.Second, 5*time.Millisecond)

	secondID, err := s.Start(context.Background(), mustRequest("10.0.0.2", 1, 3))
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	c := pollUntil(t, s)
	assert.Equal(t, secondID, c.ID)
	assert.Equal(t, "10.0.0.2", c.Request.Target)

	_, ok := s.Poll()
	assert.False(t, ok)
}

func TestSessionCanceledScan(t *testing.T) {
	scanner := newGateScanner()
	s := newTestSession(scanner)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Start(ctx, mustRequest("127.0.0.1", 1, 100))
	require.NoError(t, err)
	cancel()

	c := pollUntil(t, s)
	require.Error(t, c.Err)
	assert.True(t, errors.IsCode(c.Err, errors.CodeCanceled))
	assert.Nil(t, c.Results)
	assert.Equal(t, metrics.StatusCanceled, c.Status())
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionWithEngine(t *testing.T) {
	s := newTestSession(newTestEngine(newFakeProber(3)))
	defer s.Close()

	_, err := s.Start(context.Background(), mustRequest("127.0.0.1", 1, 5))
	require.NoError(t, err)

	c := pollUntil(t, s)
	require.NoError(t, c.Err)
	require.Len(t, c.Results, 5)
	assert.Equal(t, 1, c.Results.OpenCount())
	assert.True(t, c.Results[2].Open)
}

func TestSessionRecordsMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockScanMetrics(ctrl)

	gomock.InOrder(
		m.EXPECT().ScanStarted(),
		m.EXPECT().ScanFinished(metrics.StatusCompleted, gomock.Any()),
	)
	m.EXPECT().ScanRejected(string(errors.CodeScanInProgress))
	m.EXPECT().ScanRejected(string(errors.CodeInvalidRange))

	scanner := newGateScanner()
	s := newTestSession(scanner, WithSessionMetrics(m))

	_, err := s.Start(context.Background(), mustRequest("127.0.0.1", 1, 5))
	require.NoError(t, err)
	_, err = s.Start(context.Background(), mustRequest("127.0.0.1", 1, 5))
	require.Error(t, err)
	_, err = s.Start(context.Background(), ScanRequest{Target: "127.0.0.1", Ports: PortRange{Lo: 0, Hi: 5}})
	require.Error(t, err)

	scanner.Open()
	pollUntil(t, s)
	s.Close()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "scanning", StateScanning.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "unknown", State(42).String())
}
