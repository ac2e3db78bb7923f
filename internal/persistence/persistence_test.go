package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"wsnnode/internal/auth"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUptimeRoundTripDefaultsToZero(t *testing.T) {
	s := openTestStore(t)

	v, err := s.LoadUptime()
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)

	require.NoError(t, s.SaveUptime(12345))
	v, err = s.LoadUptime()
	require.NoError(t, err)
	require.Equal(t, uint64(12345), v)
}

func TestSensorCfgSetGetAndEnumerate(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetSensorCfg("beacon_interval_ms")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetSensorCfg("beacon_interval_ms", "1000"))
	require.NoError(t, s.SetSensorCfg("env_sensor_interval_ms", "5000"))

	v, ok, err := s.GetSensorCfg("beacon_interval_ms")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1000", v)

	all, err := s.AllSensorCfg()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"beacon_interval_ms":     "1000",
		"env_sensor_interval_ms": "5000",
	}, all)
}

func TestReplaySnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	none, err := s.LoadReplaySnapshot()
	require.NoError(t, err)
	require.Nil(t, none)

	entries := []auth.ReplaySnapshotEntry{
		{NodeID: 1, LastTimestamp: 1000},
		{NodeID: 2, LastTimestamp: 2000},
	}
	require.NoError(t, s.SaveReplaySnapshot(entries))

	loaded, err := s.LoadReplaySnapshot()
	require.NoError(t, err)
	require.Equal(t, entries, loaded)
}

func TestReplaySnapshotInteropWithReplayTable(t *testing.T) {
	s := openTestStore(t)

	rt := auth.NewReplayTable()
	require.NoError(t, rt.Check(7, 5000, 5000))
	require.NoError(t, rt.Check(9, 6000, 6000))

	require.NoError(t, s.SaveReplaySnapshot(rt.Snapshot()))

	restored := auth.NewReplayTable()
	snap, err := s.LoadReplaySnapshot()
	require.NoError(t, err)
	restored.Restore(snap)

	last, ok := restored.LastSeen(7)
	require.True(t, ok)
	require.Equal(t, int64(5000), last)
}
