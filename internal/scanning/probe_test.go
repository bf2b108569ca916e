package scanning

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen opens a loopback listener that accepts and immediately closes
// connections until the test ends.
func listen(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port that nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestTCPProber(t *testing.T) {
	prober := NewTCPProber(time.Second)

	t.Run("accepting listener is open", func(t *testing.T) {
		assert.True(t, prober.Probe(context.Background(), "127.0.0.1", listen(t)))
	})

	t.Run("refused port is closed", func(t *testing.T) {
		assert.False(t, prober.Probe(context.Background(), "127.0.0.1", closedPort(t)))
	})

	t.Run("unresolvable host is closed", func(t *testing.T) {
		assert.False(t, prober.Probe(context.Background(), "no-such-host.invalid", 80))
	})

	t.Run("cancelled context is closed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, prober.Probe(ctx, "127.0.0.1", listen(t)))
	})
}

func TestNewTCPProberDefaults(t *testing.T) {
	assert.Equal(t, DefaultProbeTimeout, NewTCPProber(0).Timeout)
	assert.Equal(t, 3*time.Second, DefaultProbeTimeout)

	var p Prober = ProberFunc(func(context.Context, string, int) bool { return true })
	assert.True(t, p.Probe(context.Background(), "x", 1))
}
