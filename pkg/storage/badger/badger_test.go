package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetlink/pkg/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_WriteAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := store.Write(ctx, telemetry.Sample{
			Timestamp:    int64(1000 + i),
			Speed:        65,
			BatteryLevel: 80,
			VIN:          "5YJ3E1EA7KF317000",
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Write(ctx, telemetry.Sample{Timestamp: 500, VIN: "OTHER"}))

	results, err := store.Recent(ctx, "5YJ3E1EA7KF317000", 4)
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Newest first, only the requested vehicle
	require.Equal(t, int64(1009), results[0].Timestamp)
	require.Equal(t, int64(1006), results[3].Timestamp)
	for _, s := range results {
		require.Equal(t, "5YJ3E1EA7KF317000", s.VIN)
	}
}

func TestBadgerStore_RecentRespectsContext(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Recent(ctx, "VIN", 10)
	require.Error(t, err)
}

func TestBadgerStore_OverwriteSameTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, telemetry.Sample{Timestamp: 1000, Speed: 60, VIN: "V"}))
	require.NoError(t, store.Write(ctx, telemetry.Sample{Timestamp: 1000, Speed: 61, VIN: "V"}))

	results, err := store.Recent(ctx, "V", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 61.0, results[0].Speed)
}
