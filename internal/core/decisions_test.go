package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinatorDecision(t *testing.T) {
	d, err := ParseCoordinatorDecision(`{"action": "plan", "reasoning": "multi-file change", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.Equal(t, ActionPlan, d.Action)
	assert.Equal(t, "multi-file change", d.Reasoning)
	assert.InDelta(t, 0.9, d.Confidence, 0.001)
}

func TestParseCoordinatorDecisionRewritesCoordinate(t *testing.T) {
	// A coordinator may not spawn another coordinator.
	d, err := ParseCoordinatorDecision(`{"action": "coordinate", "reasoning": "look again"}`)
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, d.Action)
	assert.Contains(t, d.Reasoning, "coordinate may not be a sub-action")
	assert.Contains(t, d.Reasoning, "look again")
}

func TestParseCoordinatorDecisionRewritesClarify(t *testing.T) {
	d, err := ParseCoordinatorDecision(`{"action": "clarify", "reasoning": "ambiguous"}`)
	require.NoError(t, err)
	assert.Equal(t, ActionNotify, d.Action)
	assert.Equal(t, string(ActionClarify), d.Meta["originalAction"])
}

func TestParseCoordinatorDecisionRejectsGarbage(t *testing.T) {
	_, err := ParseCoordinatorDecision("I think we should plan this")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	_, err = ParseCoordinatorDecision(`{"action": "explode"}`)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestParsePlanBareArray(t *testing.T) {
	items, err := ParsePlan(`[
		{"title": "add endpoint", "description": "handler plus route"},
		{"title": "add tests", "description": "cover the handler", "depends_on": 0}
	]`)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "add endpoint", items[0].Title)
	require.NotNil(t, items[1].DependsOn)
	assert.Equal(t, 0, *items[1].DependsOn)
}

func TestParsePlanWrappedObject(t *testing.T) {
	items, err := ParsePlan(`{"items": [{"title": "one thing", "description": "do it"}]}`)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "one thing", items[0].Title)
}

func TestParsePlanRejectsEmptyAndUntitled(t *testing.T) {
	_, err := ParsePlan(`[]`)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	_, err = ParsePlan(`[{"title": "  ", "description": "no title"}]`)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	_, err = ParsePlan(`not json at all`)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestParsePlanRejectsBadDependencies(t *testing.T) {
	cases := map[string]string{
		"out of range": `[{"title": "a", "depends_on": 5}]`,
		"negative":     `[{"title": "a", "depends_on": -1}]`,
		"self":         `[{"title": "a", "depends_on": 0}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlan(raw)
			require.Error(t, err)
			// Bad references are not retryable: the model produced a
			// structurally invalid plan, not a flaky answer.
			assert.True(t, IsTraceFatal(err))
		})
	}
}

func TestParseResolveDecision(t *testing.T) {
	d := ParseResolveDecision(`{"decision": "iterate", "iterate_instructions": "fix the failing test"}`)
	assert.Equal(t, ResolveIterate, d.Decision)
	assert.Equal(t, "fix the failing test", d.IterateInstructions)

	d = ParseResolveDecision(`{"decision": "fail", "fail_reason": "needs credentials"}`)
	assert.Equal(t, ResolveFail, d.Decision)
	assert.Equal(t, "needs credentials", d.FailReason)
}

func TestParseResolveDecisionDegradesSafely(t *testing.T) {
	// Malformed answers never error; the retry gate upstream bounds
	// how often the default iterate can fire.
	d := ParseResolveDecision("definitely try again")
	assert.Equal(t, ResolveIterate, d.Decision)
	assert.Equal(t, DefaultIterateInstructions, d.IterateInstructions)

	d = ParseResolveDecision(`{"decision": "push"}`)
	assert.Equal(t, ResolveIterate, d.Decision)

	d = ParseResolveDecision(`{"decision": "iterate"}`)
	assert.Equal(t, DefaultIterateInstructions, d.IterateInstructions)

	d = ParseResolveDecision(`{"decision": "fail"}`)
	assert.NotEmpty(t, d.FailReason)
}

func TestActionTypeValid(t *testing.T) {
	assert.True(t, ActionCoordinate.Valid())
	assert.True(t, ActionNoop.Valid())
	assert.False(t, ActionType("deploy").Valid())
}
