package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/fsutil"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), nil)
}

// writeResult plants the file the sandbox agent would write for the
// given iteration.
func writeResult(t *testing.T, m *Manager, id string, n int, result map[string]string) {
	t.Helper()
	dir := filepath.Join(m.TasksDir(), id, "iterations", strconv.Itoa(n))
	require.NoError(t, fsutil.EnsureDir(dir))
	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644))
}

func TestCreateAndGetTask(t *testing.T) {
	m := newTestManager(t)

	task, err := m.CreateTask(context.Background(), TaskDescription{
		Title:              "add endpoint",
		Description:        "handler plus route",
		AcceptanceCriteria: "returns 200",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, core.TaskNew, task.Status)
	assert.Equal(t, 1, task.Iteration)

	got, err := m.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "add endpoint", got.Title)

	// The full creation payload is on disk for the sandbox agent.
	data, err := os.ReadFile(filepath.Join(m.TasksDir(), task.ID, "description.json"))
	require.NoError(t, err)
	var desc TaskDescription
	require.NoError(t, json.Unmarshal(data, &desc))
	assert.Equal(t, "returns 200", desc.AcceptanceCriteria)
}

func TestGetTaskMissingIsTraceFatal(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetTask(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, core.IsTraceFatal(err))
	assert.True(t, errors.Is(err, core.ErrTrace(core.CodeTaskNotFound, "")))
}

func TestListTasks(t *testing.T) {
	m := newTestManager(t)

	// No tasks/ directory yet.
	tasks, err := m.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = m.CreateTask(context.Background(), TaskDescription{Title: "a"})
	require.NoError(t, err)
	_, err = m.CreateTask(context.Background(), TaskDescription{Title: "b"})
	require.NoError(t, err)

	tasks, err = m.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestStatusTransitions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)

	require.NoError(t, m.MarkInProgress(ctx, task.ID))
	require.NoError(t, m.SetWorkspace(ctx, task.ID, "/ws/t", "rover/t-1"))
	require.NoError(t, m.SetBaseCommit(ctx, task.ID, "deadbeef"))
	require.NoError(t, m.SetContainerInfo(ctx, task.ID, "container-9"))
	require.NoError(t, m.SetAgentImage(ctx, task.ID, "rover-agent:latest"))

	got, err := m.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskInProgress, got.Status)
	assert.Equal(t, "/ws/t", got.Workspace)
	assert.Equal(t, "rover/t-1", got.Branch)
	assert.Equal(t, "deadbeef", got.BaseCommit)
	assert.Equal(t, "container-9", got.ContainerID)
	assert.Equal(t, "rover-agent:latest", got.AgentImage)
	assert.True(t, got.Status.Active())

	require.NoError(t, m.ResetToNew(ctx, task.ID))
	got, err = m.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskNew, got.Status)
	assert.Empty(t, got.ContainerID)

	require.NoError(t, m.MarkPushed(ctx, task.ID))
	got, err = m.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskPushed, got.Status)
	assert.True(t, got.Status.Terminal())
}

func TestIncrementIteration(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)

	n, err := m.IncrementIteration(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpdateStatusFromIterationPendingResult(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)

	// The sandbox has not written the result file yet.
	_, err = m.UpdateStatusFromIteration(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTransient(core.CodeResultPending, "")))
}

func TestUpdateStatusFromIterationTruncatedResult(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)

	// A mid-write read sees a truncated file.
	dir := filepath.Join(m.TasksDir(), task.ID, "iterations", "1")
	require.NoError(t, fsutil.EnsureDir(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.json"), []byte(`{"status": "comp`), 0o644))

	_, err = m.UpdateStatusFromIteration(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTransient(core.CodeResultPending, "")))
}

func TestUpdateStatusFromIterationCompleted(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)
	writeResult(t, m, task.ID, 1, map[string]string{"status": "completed", "summary": "added the handler"})

	updated, err := m.UpdateStatusFromIteration(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, updated.Status)
	assert.Empty(t, updated.Error)

	// The transition is durable.
	got, err := m.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, got.Status)
}

func TestUpdateStatusFromIterationFailed(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)
	writeResult(t, m, task.ID, 1, map[string]string{"status": "failed", "error": "tests never passed"})

	updated, err := m.UpdateStatusFromIteration(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, updated.Status)
	assert.Equal(t, "tests never passed", updated.Error)
}

func TestUpdateStatusReadsLatestIteration(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)
	writeResult(t, m, task.ID, 1, map[string]string{"status": "failed", "error": "first try"})
	_, err = m.IncrementIteration(ctx, task.ID)
	require.NoError(t, err)

	// Iteration 2 has no result yet; the stale iteration 1 file must
	// not be read.
	_, err = m.UpdateStatusFromIteration(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTransient(core.CodeResultPending, "")))

	writeResult(t, m, task.ID, 2, map[string]string{"status": "completed", "summary": "second try worked"})
	updated, err := m.UpdateStatusFromIteration(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, updated.Status)
}

func TestIterationSummaries(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, TaskDescription{Title: "t"})
	require.NoError(t, err)
	writeResult(t, m, task.ID, 1, map[string]string{"status": "failed", "error": "missing import"})
	_, err = m.IncrementIteration(ctx, task.ID)
	require.NoError(t, err)
	writeResult(t, m, task.ID, 2, map[string]string{"status": "completed", "summary": "fixed the import"})

	summaries, err := m.IterationSummaries(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "failed: missing import", summaries[0])
	assert.Equal(t, "fixed the import", summaries[1])
}
