package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fleetlink/pkg/telemetry"
)

func TestHistory_BoundAndEviction(t *testing.T) {
	h := NewHistory(5)

	for i := 0; i < 12; i++ {
		h.Append(telemetry.Sample{Timestamp: int64(i)})
	}

	require.Equal(t, 5, h.Len())

	snap := h.Snapshot(0)
	require.Len(t, snap, 5)
	// Oldest evicted first, ordering preserved.
	for i, s := range snap {
		require.Equal(t, int64(7+i), s.Timestamp)
	}
}

func TestHistory_SnapshotLimit(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 4; i++ {
		h.Append(telemetry.Sample{Timestamp: int64(i)})
	}

	snap := h.Snapshot(2)
	require.Len(t, snap, 2)
	require.Equal(t, int64(2), snap[0].Timestamp)
	require.Equal(t, int64(3), snap[1].Timestamp)

	// Asking for more than buffered returns everything.
	require.Len(t, h.Snapshot(100), 4)
}

func TestHistory_SnapshotIsACopy(t *testing.T) {
	h := NewHistory(3)
	h.Append(telemetry.Sample{Timestamp: 1})

	snap := h.Snapshot(0)
	snap[0].Timestamp = 99

	require.Equal(t, int64(1), h.Snapshot(0)[0].Timestamp)
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(3)
	h.Append(telemetry.Sample{Timestamp: 1})
	h.Clear()
	require.Equal(t, 0, h.Len())
}
