//go:build !windows

package edgelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// cat blocks on stdin and exits on SIGTERM, which is all the lifecycle
// tests need from a stand-in logger binary.
const testBinary = "/bin/cat"

func TestStartStop(t *testing.T) {
	h := New(testBinary)
	require.Equal(t, StatusNotRunning, h.Status())

	require.NoError(t, h.Start())
	require.Equal(t, StatusRunning, h.Status())

	require.NoError(t, h.Stop())
	require.Eventually(t, func() bool {
		return h.Status() == StatusNotRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStart_RejectedWhileRunning(t *testing.T) {
	h := New(testBinary)
	require.NoError(t, h.Start())
	defer h.Stop()

	require.ErrorIs(t, h.Start(), ErrAlreadyRunning)
}

func TestStop_RejectedWhenNotRunning(t *testing.T) {
	h := New(testBinary)
	require.ErrorIs(t, h.Stop(), ErrNotRunning)
}

func TestSetOffline(t *testing.T) {
	h := New(testBinary)

	require.ErrorIs(t, h.SetOffline(true), ErrNotRunning)

	require.NoError(t, h.Start())
	defer h.Stop()

	require.NoError(t, h.SetOffline(true))
	require.NoError(t, h.SetOffline(false))
}

func TestRestartAfterStop(t *testing.T) {
	h := New(testBinary)
	require.NoError(t, h.Start())
	require.NoError(t, h.Stop())

	require.Eventually(t, func() bool {
		return h.Status() == StatusNotRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Start())
	require.NoError(t, h.Stop())
}
