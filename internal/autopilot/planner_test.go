package autopilot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorhq/rover/internal/core"
)

func planAction(t *testing.T, f *fixture) (string, core.PendingAction) {
	t.Helper()
	traceID, _ := f.openTrace(t, issueEvent("ev-1", 7))
	p := f.enqueue(t, traceID, traceID, core.ActionPlan, nil)
	return traceID, p
}

func TestPlanQueuesOneWorkflowPerItem(t *testing.T) {
	f := newFixture(t)
	f.agent.Response = `[
		{"title": "add endpoint", "description": "handler plus route", "acceptance_criteria": "returns 200"},
		{"title": "add tests", "description": "cover the handler"}
	]`

	traceID, p := planAction(t, f)
	require.NoError(t, f.pilot.planProcess(context.Background(), p))

	pending := f.pendingOf(t, core.ActionWorkflow)
	require.Len(t, pending, 2)
	assert.Equal(t, "add endpoint", pending[0].Meta["title"])
	assert.Equal(t, "returns 200", pending[0].Meta["acceptanceCriteria"])
	assert.Equal(t, "add tests", pending[1].Meta["title"])

	// The plan entry itself is done.
	assert.Empty(t, f.pendingOf(t, core.ActionPlan))

	steps := f.pilot.index.Steps(traceID)
	// coordinate(pending from openTrace helper is untouched), plan, two workflows
	var workflows int
	for _, s := range steps {
		if s.Action == core.ActionWorkflow {
			workflows++
			assert.Equal(t, core.StepPending, s.Status)
		}
	}
	assert.Equal(t, 2, workflows)

	// The full-strength agent plans, not the fast one.
	assert.Equal(t, 1, f.agent.CallCount())
	assert.Zero(t, f.fast.CallCount())
}

func TestPlanResolvesSiblingDependencies(t *testing.T) {
	f := newFixture(t)
	f.agent.Response = `[
		{"title": "schema migration", "description": "add the column"},
		{"title": "use the column", "description": "read it", "depends_on": 0}
	]`

	_, p := planAction(t, f)
	require.NoError(t, f.pilot.planProcess(context.Background(), p))

	pending := f.pendingOf(t, core.ActionWorkflow)
	require.Len(t, pending, 2)

	depID := pending[1].Meta["dependsOnActionID"]
	require.NotNil(t, depID)
	assert.Equal(t, pending[0].ActionID, depID)
	_, hasDep := pending[0].Meta["dependsOnActionID"]
	assert.False(t, hasDep)

	// The dependency is durable on the action file too.
	action, err := f.store.ReadAction(pending[1].ActionID)
	require.NoError(t, err)
	assert.Equal(t, pending[0].ActionID, action.Meta["dependsOnActionID"])
}

func TestPlanInvalidDependencyFailsTrace(t *testing.T) {
	f := newFixture(t)
	f.agent.Response = `[{"title": "a", "description": "b", "depends_on": 7}]`

	traceID, p := planAction(t, f)
	require.NoError(t, f.pilot.planProcess(context.Background(), p))

	// Trace-fatal: no workflow was queued and the plan entry is gone.
	assert.Empty(t, f.pendingOf(t, core.ActionWorkflow))
	assert.Empty(t, f.pendingOf(t, core.ActionPlan))

	steps := f.pilot.index.Steps(traceID)
	var failed bool
	for _, s := range steps {
		if s.ActionID == p.ActionID && s.Status == core.StepFailed {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestPlanMalformedAnswerRetries(t *testing.T) {
	f := newFixture(t)
	f.agent.Response = "let me think about that"

	_, p := planAction(t, f)
	require.Error(t, f.pilot.planProcess(context.Background(), p))

	assert.Len(t, f.pendingOf(t, core.ActionPlan), 1)
}
