package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestEnsureVehicle_Idempotent(t *testing.T) {
	r := newTestRegistry(t)

	id1, err := r.EnsureVehicle("5YJ3E1EA7KF317000", "Model 3")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := r.EnsureVehicle("5YJ3E1EA7KF317000", "Model 3")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestResolveVIN(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.EnsureVehicle("5YJ3E1EA7KF317000", "Model 3")
	require.NoError(t, err)

	resolved, err := r.ResolveVIN("5YJ3E1EA7KF317000")
	require.NoError(t, err)
	require.Equal(t, id, resolved)

	// Second resolve hits the primary-vehicle cache.
	resolved, err = r.ResolveVIN("5YJ3E1EA7KF317000")
	require.NoError(t, err)
	require.Equal(t, id, resolved)
}

func TestResolveVIN_Unknown(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.ResolveVIN("NOSUCHVIN")
	require.ErrorIs(t, err, ErrUnknownVehicle)
}

func TestListVehicles(t *testing.T) {
	r := newTestRegistry(t)

	idA, err := r.EnsureVehicle("VIN-A", "Car A")
	require.NoError(t, err)
	idB, err := r.EnsureVehicle("VIN-B", "Car B")
	require.NoError(t, err)

	vehicles, err := r.ListVehicles()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"VIN-A": idA, "VIN-B": idB}, vehicles)
}
