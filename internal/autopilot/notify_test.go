package autopilot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endorhq/rover/internal/core"
)

func TestNotifyComposesBodyFromTrace(t *testing.T) {
	f := newFixture(t)
	f.fast.Response = "Pushed branch rover/add-endpoint-1 with the requested endpoint. Review when you have a moment."

	traceID, _ := f.openTrace(t, issueEvent("ev-1", 7))
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{
		"outcome": "pushed",
		"branch":  "rover/add-endpoint-1",
		"taskId":  "task-1",
	})

	require.NoError(t, f.pilot.notifyProcess(context.Background(), p))

	posted := f.hosting.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, "issue", posted[0].Kind)
	assert.Equal(t, 7, posted[0].Number)
	assert.Equal(t, f.fast.Response, posted[0].Body)

	// The prompt carried the event and the trace outcome.
	require.Equal(t, 1, f.fast.CallCount())
	assert.Contains(t, f.fast.Calls[0].Prompt, "fix the gadget")
	assert.Contains(t, f.fast.Calls[0].Prompt, "rover/add-endpoint-1")
	assert.Contains(t, f.fast.Calls[0].Prompt, "pushed")

	assert.Empty(t, f.pendingOf(t, core.ActionNotify))
}

func TestNotifyAgentFailureFallsBackToStepSummaries(t *testing.T) {
	f := newFixture(t)
	f.fast.Err = core.ErrTransient(core.CodeAgentFailed, "agent timed out")

	traceID, _ := f.openTrace(t, issueEvent("ev-1", 7))
	f.pilot.index.Append(traceID, core.ActionStep{
		ActionID:  "a-wf",
		Action:    core.ActionWorkflow,
		Status:    core.StepCompleted,
		Timestamp: time.Now().UTC(),
		Reasoning: "implemented the gadget endpoint",
	})
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{
		"outcome": "pushed",
		"branch":  "rover/add-endpoint-1",
	})

	// The comment still goes out, built from the recorded summaries.
	require.NoError(t, f.pilot.notifyProcess(context.Background(), p))

	posted := f.hosting.Posted()
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Body, "implemented the gadget endpoint")
	assert.Empty(t, f.pendingOf(t, core.ActionNotify))
}

func TestNotifyAgentFailureWithoutSummariesUsesGenericLine(t *testing.T) {
	f := newFixture(t)
	f.fast.Err = core.ErrTransient(core.CodeAgentFailed, "agent timed out")

	traceID, _ := f.openTrace(t, issueEvent("ev-1", 7))
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{
		"outcome": "pushed",
		"detail":  "branch rover/add-endpoint-1 pushed",
	})

	require.NoError(t, f.pilot.notifyProcess(context.Background(), p))

	posted := f.hosting.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, "Autopilot finished processing: branch rover/add-endpoint-1 pushed", posted[0].Body)
}

func TestNotifyPrefersPRNumber(t *testing.T) {
	f := newFixture(t)
	f.fast.Response = "No changes were needed."

	traceID, _ := f.openTrace(t, core.Event{
		ID:            "ev-pr",
		Type:          core.EventCommentOnIssueOrPR,
		Repo:          "acme/widgets",
		Author:        "alice",
		IssueNumber:   12,
		PRNumber:      12,
		IsPullRequest: true,
		Body:          "please rebase this",
		CreatedAt:     time.Now().UTC(),
	})
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{
		"outcome": "pushed",
		"branch":  "rover/rebase-1",
	})

	require.NoError(t, f.pilot.notifyProcess(context.Background(), p))

	posted := f.hosting.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, "pr", posted[0].Kind)
	assert.Equal(t, 12, posted[0].Number)
}

func TestNotifyPushRootCompletesSilently(t *testing.T) {
	f := newFixture(t)

	traceID, _ := f.openTrace(t, core.Event{
		ID:        "ev-push",
		Type:      core.EventPushedRef,
		Repo:      "acme/widgets",
		Ref:       "refs/heads/main",
		CreatedAt: time.Now().UTC(),
	})
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{"outcome": "pushed"})

	require.NoError(t, f.pilot.notifyProcess(context.Background(), p))

	assert.Empty(t, f.hosting.Posted())
	assert.Zero(t, f.fast.CallCount())
	assert.Empty(t, f.pendingOf(t, core.ActionNotify))
}

func TestNotifyClarifyUsesAgentReply(t *testing.T) {
	f := newFixture(t)
	f.fast.Response = "Could you share the exact error output and the Go version you are on?"

	traceID, _ := f.openTrace(t, issueEvent("ev-1", 7))
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{
		"originalAction": string(core.ActionClarify),
	})

	require.NoError(t, f.pilot.notifyProcess(context.Background(), p))

	require.Equal(t, 1, f.fast.CallCount())
	assert.Contains(t, f.fast.Calls[0].Prompt, "fix the gadget")
	assert.Equal(t, clarifySystemPrompt, f.fast.Calls[0].Opts.SystemPrompt)

	posted := f.hosting.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, f.fast.Response, posted[0].Body)
}

func TestNotifyPostFailureLeavesActionQueued(t *testing.T) {
	f := newFixture(t)
	f.fast.Response = "All done."
	f.hosting.CommentErr = core.ErrTransient(core.CodeGitFailed, "gh down")

	traceID, _ := f.openTrace(t, issueEvent("ev-1", 7))
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{"outcome": "pushed"})

	require.Error(t, f.pilot.notifyProcess(context.Background(), p))

	assert.Empty(t, f.hosting.Posted())
	assert.Len(t, f.pendingOf(t, core.ActionNotify), 1)
}

func TestNotifyTruncatesLongComment(t *testing.T) {
	f := newFixture(t)
	f.fast.Response = strings.Repeat("a", maxCommentLen+500)

	traceID, _ := f.openTrace(t, issueEvent("ev-1", 7))
	p := f.enqueue(t, traceID, traceID, core.ActionNotify, map[string]any{
		"originalAction": string(core.ActionClarify),
	})

	require.NoError(t, f.pilot.notifyProcess(context.Background(), p))

	posted := f.hosting.Posted()
	require.Len(t, posted, 1)
	assert.Len(t, posted[0].Body, maxCommentLen+len("\n\n*(truncated)*"))
	assert.True(t, strings.HasSuffix(posted[0].Body, "*(truncated)*"))
}
