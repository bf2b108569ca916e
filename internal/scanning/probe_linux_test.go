//go:build linux

package scanning

import (
	"context"
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentPort returns a loopback port whose accept queue is already full.
// Linux drops SYNs to such a listener, so a connect to it neither succeeds
// nor is refused until the caller gives up.
func silentPort(t *testing.T) int {
	t.Helper()

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	require.NoError(t, err)
	t.Cleanup(func() { _ = syscall.Close(fd) })

	require.NoError(t, syscall.Bind(fd, &syscall.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, syscall.Listen(fd, 0))
	sa, err := syscall.Getsockname(fd)
	require.NoError(t, err)
	port := sa.(*syscall.SockaddrInet4).Port
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	// Nothing ever accepts, so each completed handshake stays queued.
	for i := 0; i < 8; i++ {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return port
		}
		t.Cleanup(func() { _ = conn.Close() })
	}
	t.Skip("accept queue did not fill; SYNs are not being dropped")
	return 0
}

func TestTCPProberGivesUpAtTimeout(t *testing.T) {
	port := silentPort(t)
	timeout := 150 * time.Millisecond
	prober := NewTCPProber(timeout)

	start := time.Now()
	open := prober.Probe(context.Background(), "127.0.0.1", port)
	elapsed := time.Since(start)

	assert.False(t, open)
	assert.GreaterOrEqual(t, elapsed, timeout, "returned before the connect timed out")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestTCPProberHonoursContextDeadline(t *testing.T) {
	port := silentPort(t)
	prober := NewTCPProber(10 * time.Second)

	deadline := 150 * time.Millisecond
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	open := prober.Probe(ctx, "127.0.0.1", port)
	elapsed := time.Since(start)

	assert.False(t, open)
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, 2*time.Second, "the context deadline must cut the connect short")
}
