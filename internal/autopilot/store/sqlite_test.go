package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorhq/rover/internal/core"
)

func TestSQLiteTraceStoreRoundTrip(t *testing.T) {
	ts, err := NewSQLiteTraceStore(filepath.Join(t.TempDir(), "autopilot", "traces.db"))
	require.NoError(t, err)
	defer ts.Close()

	empty, err := ts.LoadTraces()
	require.NoError(t, err)
	assert.Empty(t, empty)

	traces := map[string]core.TraceSnapshot{
		"t-1": {
			TraceID:    "t-1",
			RetryCount: 1,
			Steps: []core.ActionStep{
				{ActionID: "a-1", Action: core.ActionCoordinate, Status: core.StepCompleted, Timestamp: time.Now().UTC()},
			},
		},
		"t-2": {TraceID: "t-2"},
	}
	require.NoError(t, ts.SaveTraces(traces))

	got, err := ts.LoadTraces()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got["t-1"].RetryCount)
	require.Len(t, got["t-1"].Steps, 1)
	assert.Equal(t, core.StepCompleted, got["t-1"].Steps[0].Status)
}

func TestSQLiteSaveReplacesSnapshot(t *testing.T) {
	ts, err := NewSQLiteTraceStore(filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	defer ts.Close()

	require.NoError(t, ts.SaveTraces(map[string]core.TraceSnapshot{
		"t-1": {TraceID: "t-1"},
		"t-2": {TraceID: "t-2"},
	}))
	require.NoError(t, ts.SaveTraces(map[string]core.TraceSnapshot{
		"t-2": {TraceID: "t-2", RetryCount: 3},
	}))

	got, err := ts.LoadTraces()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got["t-2"].RetryCount)
}

func TestNewTraceStoreSelectsBackend(t *testing.T) {
	s := newTestStore(t)

	jsonStore, err := NewTraceStore(s, "json")
	require.NoError(t, err)
	assert.Same(t, s, jsonStore.(*Store))

	sqliteStore, err := NewTraceStore(s, "sqlite")
	require.NoError(t, err)
	sq, ok := sqliteStore.(*SQLiteTraceStore)
	require.True(t, ok)
	defer sq.Close()
	assert.FileExists(t, filepath.Join(s.BaseDir(), "autopilot", "traces.db"))
}
