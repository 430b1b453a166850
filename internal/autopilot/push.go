package autopilot

import (
	"context"
	"fmt"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// pushProcess publishes the task branch. When the remote rejects the
// push the branch is rebased onto the remote default branch and
// retried once; conflicts abort the rebase and surface as a transient
// error for a later tick.
func (a *Autopilot) pushProcess(ctx context.Context, p core.PendingAction) error {
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	task, err := a.deps.Tasks.GetTask(ctx, metaString(p.Meta, "taskId"))
	if err != nil {
		return a.stageFailure(p, nil, err)
	}
	branch := metaString(p.Meta, "branchName")
	if branch == "" {
		branch = task.Branch
	}

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepPush,
		Parent: p.SpanID,
		Meta:   map[string]any{"taskId": task.ID, "branch": branch},
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	remote := a.cfg.Git.Remote
	if err := a.pushBranch(ctx, task.Workspace, remote, branch); err != nil {
		return a.stageFailure(p, span, err)
	}

	if err := a.deps.Tasks.MarkPushed(ctx, task.ID); err != nil {
		return a.stageFailure(p, span, err)
	}
	if err := span.Complete(fmt.Sprintf("pushed %s to %s", branch, remote), nil); err != nil {
		return a.stageFailure(p, nil, err)
	}

	if _, err := a.advance(p, journal.ActionOptions{
		Action: core.ActionNotify,
		SpanID: span.ID(),
		Meta: map[string]any{
			"outcome": "pushed",
			"branch":  branch,
			"taskId":  task.ID,
		},
	}, core.StepPush, "notify: branch pushed"); err != nil {
		return a.stageFailure(p, nil, err)
	}

	a.logger.Info("branch pushed", "trace_id", p.TraceID, "task_id", task.ID, "branch", branch)
	return a.finishStep(p)
}

// pushBranch pushes and, on rejection, rebases onto the remote state
// of the base and pushes again. Rebase conflicts abort cleanly.
func (a *Autopilot) pushBranch(ctx context.Context, dir, remote, branch string) error {
	pushErr := a.deps.Git.Push(ctx, dir, remote, branch)
	if pushErr == nil {
		return nil
	}

	conflicts, err := a.deps.Git.Rebase(ctx, dir, remote+"/"+branch)
	if err != nil {
		return pushErr
	}
	if len(conflicts) > 0 {
		if abortErr := a.deps.Git.AbortRebase(ctx, dir); abortErr != nil {
			a.logger.Warn("push: aborting rebase", "dir", dir, "error", abortErr)
		}
		return core.ErrTransient(core.CodeGitFailed,
			fmt.Sprintf("rebase conflicts on %d files", len(conflicts)))
	}
	return a.deps.Git.Push(ctx, dir, remote, branch)
}
