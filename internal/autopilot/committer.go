package autopilot

import (
	"context"
	"fmt"
	"strings"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// defaultTrailerText is appended to commit messages when attribution
// is enabled and no custom trailer is configured.
const defaultTrailerText = "Co-authored-by: Rover <rover@localhost>"

// commitProcess turns a finished task's workspace changes into a
// commit. A failed task skips the commit entirely; a commit that
// cannot be made (nothing staged, git error) completes the span with a
// commitError so the resolver can close the trace without pushing.
// Either way the trace continues into the resolver.
func (a *Autopilot) commitProcess(ctx context.Context, p core.PendingAction) error {
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	taskID := metaString(p.Meta, "taskId")
	task, err := a.deps.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepCommit,
		Parent: p.SpanID,
		Meta:   map[string]any{"taskId": taskID},
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	stepStatus := core.StepCompleted

	if task.Status != core.TaskCompleted {
		// No commitError here: the distinction lets the resolver treat
		// a failed task as retryable instead of silently closing it.
		if err := span.Fail("task failed; commit skipped"); err != nil {
			return a.stageFailure(p, nil, err)
		}
		stepStatus = core.StepFailed
	} else if err := a.commitWorkspace(ctx, span, task); err != nil {
		return a.stageFailure(p, span, err)
	}

	if _, err := a.advance(p, journal.ActionOptions{
		Action: core.ActionResolve,
		SpanID: span.ID(),
		Meta: map[string]any{
			"taskId":           taskID,
			"branchName":       metaString(p.Meta, "branchName"),
			"workflowActionId": metaString(p.Meta, "workflowActionId"),
		},
	}, core.StepCommit, "resolve task "+task.Title); err != nil {
		return a.stageFailure(p, nil, err)
	}

	if err := a.store.RemovePending(p.ActionID); err != nil {
		return err
	}
	a.index.SetStepStatus(p.TraceID, p.ActionID, stepStatus)
	return nil
}

// commitWorkspace stages and commits the task workspace, finalizing
// the commit span with either the sha or a commitError.
func (a *Autopilot) commitWorkspace(ctx context.Context, span *journal.SpanHandle, task *core.Task) error {
	changes, err := a.deps.Git.HasUncommittedChanges(ctx, task.Workspace)
	if err != nil {
		return err
	}
	if !changes {
		return span.Complete("nothing to commit", map[string]any{
			"commitError": "nothing to commit",
		})
	}

	if err := a.deps.Git.AddAll(ctx, task.Workspace); err != nil {
		return err
	}

	var trailer string
	if a.cfg.Git.AttributionTrailer {
		trailer = a.cfg.Git.TrailerText
		if trailer == "" {
			trailer = defaultTrailerText
		}
	}

	sha, err := a.deps.Git.Commit(ctx, task.Workspace, core.CommitOptions{
		Message: a.commitMessage(ctx, task),
		Trailer: trailer,
	})
	if err != nil {
		// The commit itself failing is recorded on the span rather
		// than retried: the resolver decides what the trace does next.
		return span.Complete("commit failed", map[string]any{
			"commitError": err.Error(),
		})
	}

	a.logger.Info("committed", "task_id", task.ID, "sha", sha)
	return span.Complete(fmt.Sprintf("committed %.8s", sha), map[string]any{
		"commitSha": sha,
	})
}

// commitMessage asks the fast agent for a one-line message built from
// the workspace's recent commits and the task's iteration summaries.
// Any failure falls back to the task title.
func (a *Autopilot) commitMessage(ctx context.Context, task *core.Task) string {
	recent, err := a.deps.Git.RecentCommits(ctx, task.Workspace, 10)
	if err != nil {
		a.logger.Debug("committer: recent commits unavailable", "task_id", task.ID, "error", err)
	}
	summaries, err := a.deps.Tasks.IterationSummaries(ctx, task.ID)
	if err != nil {
		a.logger.Debug("committer: iteration summaries unavailable", "task_id", task.ID, "error", err)
	}

	raw, err := a.deps.FastAgent.Invoke(ctx, buildCommitPrompt(task, recent, summaries), core.InvokeOptions{
		Model:        a.deps.FastModel,
		SystemPrompt: commitMessageSystemPrompt,
		Timeout:      a.cfg.Autopilot.AgentTimeout,
	})
	if err != nil {
		a.logger.Debug("committer: message generation failed", "task_id", task.ID, "error", err)
		return task.Title
	}
	msg, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	if msg = strings.TrimSpace(msg); msg == "" {
		return task.Title
	}
	return msg
}
