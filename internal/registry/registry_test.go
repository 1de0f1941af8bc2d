package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "machines.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegisterOrTouch(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.RegisterOrTouch("laptop", "host-a"))

	devices, err := r.List(false)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	d := devices[0]
	assert.Equal(t, "laptop", d.MachineName)
	assert.Equal(t, "host-a", d.Hostname)
	assert.True(t, d.Active)
	assert.False(t, d.RegisteredDate.IsZero())

	// A later touch refreshes last_seen and hostname but never the
	// registration date.
	require.NoError(t, r.RegisterOrTouch("laptop", "host-a-renamed"))

	devices, err = r.List(false)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	d2 := devices[0]
	assert.Equal(t, "host-a-renamed", d2.Hostname)
	assert.True(t, d2.RegisteredDate.Equal(d.RegisteredDate))
	assert.False(t, d2.LastSeen.Before(d.LastSeen))
}

func TestListOrdersByLastSeen(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.RegisterOrTouch("first", "h1"))
	require.NoError(t, r.RegisterOrTouch("second", "h2"))
	// Touch "first" again so it is the most recently seen.
	require.NoError(t, r.RegisterOrTouch("first", "h1"))

	devices, err := r.List(false)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	for i := 1; i < len(devices); i++ {
		assert.False(t, devices[i-1].LastSeen.Before(devices[i].LastSeen))
	}
}

func TestDeactivateHidesWithoutDeleting(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.RegisterOrTouch("laptop", "h1"))
	require.NoError(t, r.RegisterOrTouch("desktop", "h2"))

	require.NoError(t, r.Deactivate("laptop"))

	active, err := r.List(false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "desktop", active[0].MachineName)

	all, err := r.List(true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, r.Activate("laptop"))
	active, err = r.List(false)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestDeactivateUnknownDeviceIsNoop(t *testing.T) {
	r := openTestRegistry(t)
	assert.NoError(t, r.Deactivate("ghost"))
}
