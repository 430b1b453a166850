package autopilot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorhq/rover/internal/core"
)

func pushAction(t *testing.T, f *fixture, task *core.Task) (string, core.PendingAction) {
	t.Helper()
	traceID, _ := f.openTrace(t, issueEvent("ev-"+t.Name(), 7))
	p := f.enqueue(t, traceID, traceID, core.ActionPush, map[string]any{
		"taskId":     task.ID,
		"branchName": task.Branch,
		"commitSha":  "cafebabe000000000000",
	})
	return traceID, p
}

func TestPushMarksTaskAndNotifies(t *testing.T) {
	f := newFixture(t)

	task := completedTask(t, f)
	_, p := pushAction(t, f, task)

	require.NoError(t, f.pilot.pushProcess(context.Background(), p))

	assert.True(t, f.git.Called("Push"))
	assert.Equal(t, core.TaskPushed, f.tasks.Task(task.ID).Status)

	pending := f.pendingOf(t, core.ActionNotify)
	require.Len(t, pending, 1)
	assert.Equal(t, "pushed", pending[0].Meta["outcome"])
	assert.Equal(t, "rover/add-endpoint-1", pending[0].Meta["branch"])
	assert.Equal(t, task.ID, pending[0].Meta["taskId"])

	span, err := f.store.ReadSpan(pending[0].SpanID)
	require.NoError(t, err)
	assert.Equal(t, core.StepPush, span.Step)
	assert.Equal(t, core.SpanCompleted, span.Status)
}

func TestPushRejectionRebasesAndRetries(t *testing.T) {
	f := newFixture(t)
	f.git.PushErr = errors.New("non-fast-forward")
	f.git.PushErrOnce = true

	task := completedTask(t, f)
	_, p := pushAction(t, f, task)

	require.NoError(t, f.pilot.pushProcess(context.Background(), p))

	assert.True(t, f.git.Called("Rebase"))
	assert.False(t, f.git.Called("AbortRebase"))
	assert.Equal(t, core.TaskPushed, f.tasks.Task(task.ID).Status)
	assert.Len(t, f.pendingOf(t, core.ActionNotify), 1)
}

func TestPushRebaseConflictsAbortAndRetryLater(t *testing.T) {
	f := newFixture(t)
	f.git.PushErr = errors.New("non-fast-forward")
	f.git.RebaseConflicts = []string{"main.go", "handler.go"}

	task := completedTask(t, f)
	traceID, p := pushAction(t, f, task)

	err := f.pilot.pushProcess(context.Background(), p)
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))

	assert.True(t, f.git.Called("AbortRebase"))
	assert.Equal(t, core.TaskCompleted, f.tasks.Task(task.ID).Status)

	// The entry stays queued for a later tick; the trace retry budget
	// is untouched by transient failures.
	assert.Len(t, f.pendingOf(t, core.ActionPush), 1)
	assert.Empty(t, f.pendingOf(t, core.ActionNotify))
	assert.Zero(t, f.pilot.index.RetryCount(traceID))
}

func TestPushFallsBackToTaskBranch(t *testing.T) {
	f := newFixture(t)

	task := completedTask(t, f)
	traceID, _ := f.openTrace(t, issueEvent("ev-nobranch", 7))
	p := f.enqueue(t, traceID, traceID, core.ActionPush, map[string]any{"taskId": task.ID})

	require.NoError(t, f.pilot.pushProcess(context.Background(), p))

	pending := f.pendingOf(t, core.ActionNotify)
	require.Len(t, pending, 1)
	assert.Equal(t, task.Branch, pending[0].Meta["branch"])
}
