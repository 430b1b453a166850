package autopilot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/autopilot/store"
	"github.com/endorhq/rover/internal/core"
)

func TestTraceIndexAppendAndStatus(t *testing.T) {
	ti := NewTraceIndex()

	ti.Append("t-1", core.ActionStep{ActionID: "a-1", Action: core.ActionCoordinate, Status: core.StepPending})
	ti.Append("t-1", core.ActionStep{ActionID: "a-2", Action: core.ActionWorkflow, Status: core.StepPending})

	ti.SetStepStatus("t-1", "a-1", core.StepCompleted)
	ti.SetStepStatus("t-1", "missing", core.StepFailed) // ignored
	ti.SetStepStatus("t-9", "a-1", core.StepFailed)     // unknown trace ignored

	steps := ti.Steps("t-1")
	require.Len(t, steps, 2)
	assert.Equal(t, core.StepCompleted, steps[0].Status)
	assert.Equal(t, core.StepPending, steps[1].Status)
}

func TestTraceIndexFailPendingSteps(t *testing.T) {
	ti := NewTraceIndex()
	ti.Append("t-1", core.ActionStep{ActionID: "a-1", Status: core.StepCompleted})
	ti.Append("t-1", core.ActionStep{ActionID: "a-2", Status: core.StepPending})
	ti.Append("t-1", core.ActionStep{ActionID: "a-3", Status: core.StepPending})

	ti.FailPendingSteps("t-1")

	steps := ti.Steps("t-1")
	assert.Equal(t, core.StepCompleted, steps[0].Status)
	assert.Equal(t, core.StepFailed, steps[1].Status)
	assert.Equal(t, core.StepFailed, steps[2].Status)
}

func TestTraceIndexRetryCounter(t *testing.T) {
	ti := NewTraceIndex()
	assert.Equal(t, 0, ti.RetryCount("t-1"))
	assert.Equal(t, 1, ti.IncrementRetry("t-1"))
	assert.Equal(t, 2, ti.IncrementRetry("t-1"))
	assert.Equal(t, 2, ti.RetryCount("t-1"))
	assert.Equal(t, 0, ti.RetryCount("t-2"))
}

func TestTraceIndexSnapshotIsDeepCopy(t *testing.T) {
	ti := NewTraceIndex()
	ti.Append("t-1", core.ActionStep{ActionID: "a-1", Status: core.StepPending})

	snap := ti.Snapshot()
	snap["t-1"].Steps[0].Status = core.StepFailed

	assert.Equal(t, core.StepPending, ti.Steps("t-1")[0].Status)
}

func TestTraceIndexRestore(t *testing.T) {
	ti := NewTraceIndex()
	ti.Restore(map[string]core.TraceSnapshot{
		"t-1": {
			TraceID:    "t-1",
			RetryCount: 2,
			Steps:      []core.ActionStep{{ActionID: "a-1", Status: core.StepPending}},
			UpdatedAt:  time.Now().UTC(),
		},
	})

	assert.Equal(t, 2, ti.RetryCount("t-1"))
	assert.Len(t, ti.Steps("t-1"), 1)
	assert.Contains(t, ti.TraceIDs(), "t-1")
}

func TestTraceIndexReconstructFromSpans(t *testing.T) {
	st := store.New(t.TempDir())
	require.NoError(t, st.Ensure())

	root, err := journal.StartSpan(st, journal.SpanOptions{Step: core.StepEvent})
	require.NoError(t, err)
	require.NoError(t, root.Complete("IssueOpened by alice", nil))

	coord, err := journal.StartSpan(st, journal.SpanOptions{Step: core.StepCoordinate, Parent: root.ID()})
	require.NoError(t, err)
	require.NoError(t, coord.Complete("decision: workflow", nil))

	action, err := journal.WriteAction(st, journal.ActionOptions{
		Action: core.ActionWorkflow,
		SpanID: coord.ID(),
	})
	require.NoError(t, err)
	require.NoError(t, journal.Enqueue(st, root.ID(), action, core.StepCoordinate, "launch"))

	pending, err := st.GetPending("")
	require.NoError(t, err)

	ti := NewTraceIndex()
	require.NoError(t, ti.Reconstruct(st, pending))

	steps := ti.Steps(root.ID())
	// The event root is not a step; the coordinate span and the queued
	// workflow action are.
	require.Len(t, steps, 2)
	assert.Equal(t, core.ActionType(core.StepCoordinate), steps[0].Action)
	assert.Equal(t, core.StepCompleted, steps[0].Status)
	assert.Equal(t, core.ActionWorkflow, steps[1].Action)
	assert.Equal(t, core.StepPending, steps[1].Status)
	assert.Equal(t, action.ID, steps[1].ActionID)

	// Reconstruct skips traces the index already knows.
	require.NoError(t, ti.Reconstruct(st, pending))
	assert.Len(t, ti.Steps(root.ID()), 2)
}
