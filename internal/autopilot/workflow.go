package autopilot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/fsutil"
)

// workflowSelect gates launches on free running-task slots and on
// sibling dependencies. Restart adoptions (a mapping already exists)
// and failed-dependency terminations pass through without consuming a
// slot.
func (a *Autopilot) workflowSelect(ctx context.Context, pending []core.PendingAction) []core.PendingAction {
	tasks, err := a.deps.Tasks.ListTasks(ctx)
	if err != nil {
		a.logger.Warn("workflow: listing tasks", "error", err)
		return nil
	}
	active := 0
	for _, t := range tasks {
		if t.Status.Active() {
			active++
		}
	}
	slots := a.cfg.Autopilot.MaxRunningTasks - active

	var out []core.PendingAction
	for _, p := range pending {
		if _, ok, err := a.store.GetTaskMapping(p.ActionID); err == nil && ok {
			// Already launched before a restart; Process only adopts it.
			out = append(out, p)
			continue
		}
		switch state, _ := a.dependencyState(ctx, p); state {
		case depFailed:
			// Process fails this action; no task launches.
			out = append(out, p)
			continue
		case depWaiting:
			continue
		}
		if slots <= 0 {
			continue
		}
		out = append(out, p)
		slots--
	}
	return out
}

type depState int

const (
	depNone depState = iota
	depReady
	depWaiting
	depFailed
)

// dependencyState resolves the action's sibling dependency. A ready
// dependency also yields its branch, which becomes the dependent's
// base.
func (a *Autopilot) dependencyState(ctx context.Context, p core.PendingAction) (depState, string) {
	depID := metaString(p.Meta, "dependsOnActionID")
	if depID == "" {
		return depNone, ""
	}
	mapping, ok, err := a.store.GetTaskMapping(depID)
	if err != nil || !ok {
		return depWaiting, ""
	}
	task, err := a.deps.Tasks.GetTask(ctx, mapping.TaskID)
	if err != nil {
		return depWaiting, ""
	}
	switch task.Status {
	case core.TaskCompleted, core.TaskPushed, core.TaskMerged:
		return depReady, mapping.BranchName
	case core.TaskFailed:
		return depFailed, ""
	}
	return depWaiting, ""
}

// workflowProcess launches a sandbox task for the action. Launches are
// idempotent across restarts: a mapping on disk means the launch
// already happened and the monitor owns the task.
func (a *Autopilot) workflowProcess(ctx context.Context, p core.PendingAction) error {
	if _, ok, err := a.store.GetTaskMapping(p.ActionID); err != nil {
		return a.stageFailure(p, nil, err)
	} else if ok {
		a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)
		journal.Log(a.store, p.TraceID, p.SpanID, core.StepWorkflow, "adopting task launched before restart")
		return a.store.RemovePending(p.ActionID)
	}

	if taskID := metaString(p.Meta, "taskId"); taskID != "" {
		return a.launchIteration(ctx, p, taskID)
	}
	return a.launchTask(ctx, p)
}

// launchTask creates the task, its worktree and its sandbox. The
// worktree branches off the dependency's branch when the action has
// one, so dependent work builds on its predecessor's result.
func (a *Autopilot) launchTask(ctx context.Context, p core.PendingAction) error {
	dep, depBranch := a.dependencyState(ctx, p)
	if dep == depFailed {
		return a.failDependent(p)
	}

	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	title := metaString(p.Meta, "title")
	description := metaString(p.Meta, "description")
	if title == "" {
		// Coordinator-launched single change: fall back to the event.
		root, err := a.rootSpan(p.TraceID)
		if err != nil {
			return a.stageFailure(p, nil, err)
		}
		title = metaString(root.Meta, "title")
		if title == "" {
			title = "work item"
		}
		if description == "" {
			description = metaString(root.Meta, "body")
		}
	}

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepWorkflow,
		Parent: p.SpanID,
		Meta:   map[string]any{"title": title},
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	task, err := a.deps.Tasks.CreateTask(ctx, core.TaskDescription{
		Title:              title,
		Description:        description,
		Workflow:           metaString(p.Meta, "workflow"),
		AcceptanceCriteria: metaString(p.Meta, "acceptanceCriteria"),
		Context:            metaString(p.Meta, "context"),
	})
	if err != nil {
		return a.stageFailure(p, span, err)
	}

	slug := slugify(title)
	if slug == "" {
		slug = "task"
	}
	branch := fmt.Sprintf("%s/%s-%s", a.cfg.Git.BranchPrefix, slug, shortID(task.ID))
	base := depBranch
	if base == "" {
		base, err = a.deps.Git.RevParse(ctx, a.cfg.Project.Path, "HEAD")
		if err != nil {
			return a.stageFailure(p, span, err)
		}
	}

	workspace := filepath.Join(a.store.BaseDir(), "workspaces", task.ID)
	head, err := a.deps.Git.CreateWorktree(ctx, workspace, branch, base)
	if err != nil {
		return a.stageFailure(p, span, err)
	}
	if err := a.deps.Git.SparseCheckoutExclude(ctx, workspace, a.cfg.Git.SparseExcludes); err != nil {
		a.logger.Warn("workflow: sparse checkout", "task_id", task.ID, "error", err)
	}
	a.copyEnvFiles(workspace)

	if err := a.deps.Tasks.SetWorkspace(ctx, task.ID, workspace, branch); err != nil {
		return a.stageFailure(p, span, err)
	}
	if err := a.deps.Tasks.SetBaseCommit(ctx, task.ID, head); err != nil {
		return a.stageFailure(p, span, err)
	}
	if err := a.deps.Tasks.SetAgentImage(ctx, task.ID, a.cfg.Sandbox.Image); err != nil {
		return a.stageFailure(p, span, err)
	}
	if err := a.deps.Tasks.MarkInProgress(ctx, task.ID); err != nil {
		return a.stageFailure(p, span, err)
	}

	task.Workspace = workspace
	return a.startSandbox(ctx, p, span, task, branch, "")
}

// failDependent closes a workflow action whose dependency task ended
// FAILED. Only this step fails; sibling chains of the trace continue.
func (a *Autopilot) failDependent(p core.PendingAction) error {
	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepWorkflow,
		Parent: p.SpanID,
		Meta:   map[string]any{"dependsOnActionID": metaString(p.Meta, "dependsOnActionID")},
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}
	if err := span.Fail("dependency failed"); err != nil {
		return a.stageFailure(p, nil, err)
	}
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepFailed)
	journal.Log(a.store, p.TraceID, span.ID(), core.StepWorkflow, "workflow dropped: dependency failed")
	a.logger.Warn("workflow: dependency failed", "trace_id", p.TraceID, "action_id", p.ActionID)
	return a.store.RemovePending(p.ActionID)
}

// copyEnvFiles seeds the worktree with untracked environment files the
// sandbox needs. A missing source is skipped; copies never fail the
// launch.
func (a *Autopilot) copyEnvFiles(workspace string) {
	for _, name := range a.cfg.Git.EnvFiles {
		src := filepath.Join(a.cfg.Project.Path, name)
		if !fsutil.Exists(src) {
			continue
		}
		if err := fsutil.CopyFile(src, filepath.Join(workspace, name)); err != nil {
			a.logger.Warn("workflow: copying env file", "file", name, "error", err)
		}
	}
}

// launchIteration restarts an existing task for another attempt with
// the resolver's instructions.
func (a *Autopilot) launchIteration(ctx context.Context, p core.PendingAction, taskID string) error {
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepWorkflow,
		Parent: p.SpanID,
		Meta:   map[string]any{"taskId": taskID, "iterate": true},
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	task, err := a.deps.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return a.stageFailure(p, span, err)
	}
	if _, err := a.deps.Tasks.IncrementIteration(ctx, taskID); err != nil {
		return a.stageFailure(p, span, err)
	}
	if err := a.deps.Tasks.MarkIterating(ctx, taskID); err != nil {
		return a.stageFailure(p, span, err)
	}
	task, err = a.deps.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return a.stageFailure(p, span, err)
	}

	return a.startSandbox(ctx, p, span, task, task.Branch, metaString(p.Meta, "instructions"))
}

// startSandbox starts the container, persists the action-task mapping
// and hands the running task over to the monitor. The mapping is
// written even when the launch fails so the failure surfaces through
// the normal commit/resolve chain instead of re-launching blindly.
func (a *Autopilot) startSandbox(ctx context.Context, p core.PendingAction, span *journal.SpanHandle, task *core.Task, branch, instructions string) error {
	mapping := core.TaskMapping{
		TaskID:         task.ID,
		BranchName:     branch,
		TraceID:        p.TraceID,
		WorkflowSpanID: span.ID(),
	}

	env := make(map[string]string, len(a.cfg.Sandbox.Env)+1)
	for k, v := range a.cfg.Sandbox.Env {
		env[k] = v
	}
	if instructions != "" {
		env["ROVER_INSTRUCTIONS"] = instructions
	}

	containerID, err := a.createAndStart(ctx, task, env)
	if err != nil {
		if resetErr := a.deps.Tasks.ResetToNew(ctx, task.ID); resetErr != nil {
			a.logger.Warn("workflow: resetting task after sandbox failure", "task_id", task.ID, "error", resetErr)
		}
		if annErr := span.Annotate(map[string]any{"sandboxError": err.Error()}); annErr != nil {
			return a.stageFailure(p, span, annErr)
		}
		a.logger.Warn("workflow: sandbox launch failed", "task_id", task.ID, "error", err)
	} else {
		if err := a.deps.Tasks.SetContainerInfo(ctx, task.ID, containerID); err != nil {
			return a.stageFailure(p, span, err)
		}
		a.logger.Info("workflow: task launched",
			"trace_id", p.TraceID, "task_id", task.ID, "branch", branch, "container_id", containerID)
	}

	if err := a.store.SetTaskMapping(p.ActionID, mapping); err != nil {
		return a.stageFailure(p, span, err)
	}
	journal.Log(a.store, p.TraceID, span.ID(), core.StepWorkflow, "task launched: "+task.Title)
	return a.store.RemovePending(p.ActionID)
}

func (a *Autopilot) createAndStart(ctx context.Context, task *core.Task, env map[string]string) (string, error) {
	sb, err := a.deps.Sandbox.CreateSandbox(ctx, task, core.SandboxOptions{
		Image:     a.cfg.Sandbox.Image,
		Workspace: task.Workspace,
		Env:       env,
	})
	if err != nil {
		return "", err
	}
	return sb.CreateAndStart(ctx)
}

// workflowMonitor walks the action-task mappings whose workflow span
// is still running, folds sandbox results into task status and hands
// finished tasks to the committer.
func (a *Autopilot) workflowMonitor(ctx context.Context) error {
	mappings, err := a.store.AllTaskMappings()
	if err != nil {
		return err
	}

	for actionID, mapping := range mappings {
		span, err := a.store.ReadSpan(mapping.WorkflowSpanID)
		if err != nil {
			a.logger.Warn("monitor: workflow span unreadable",
				"trace_id", mapping.TraceID, "span_id", mapping.WorkflowSpanID, "error", err)
			continue
		}
		if span.Status.Terminal() {
			continue
		}

		task, err := a.deps.Tasks.GetTask(ctx, mapping.TaskID)
		if err != nil {
			a.logger.Warn("monitor: task unreadable", "task_id", mapping.TaskID, "error", err)
			continue
		}

		switch {
		case task.Status == core.TaskNew:
			if msg := metaString(span.Meta, "sandboxError"); msg != "" {
				a.finishWorkflow(actionID, mapping, task, "sandbox launch failed: "+msg, false)
			} else {
				// Crashed between mapping write and container start.
				a.relaunch(ctx, mapping, task)
			}
		case task.Status.Active():
			updated, err := a.deps.Tasks.UpdateStatusFromIteration(ctx, mapping.TaskID)
			if err != nil {
				// Result still pending is the normal case here.
				continue
			}
			if updated.Status.Terminal() {
				a.finishWorkflow(actionID, mapping, updated,
					fmt.Sprintf("task %s after iteration %d", strings.ToLower(string(updated.Status)), updated.Iteration),
					updated.Status == core.TaskCompleted)
			}
		case task.Status.Terminal():
			a.finishWorkflow(actionID, mapping, task, "task "+strings.ToLower(string(task.Status)),
				task.Status == core.TaskCompleted)
		}
	}
	return nil
}

// relaunch retries the container start for a task that never left NEW.
func (a *Autopilot) relaunch(ctx context.Context, mapping core.TaskMapping, task *core.Task) {
	if err := a.deps.Tasks.MarkInProgress(ctx, task.ID); err != nil {
		a.logger.Warn("monitor: relaunch", "task_id", task.ID, "error", err)
		return
	}
	containerID, err := a.createAndStart(ctx, task, a.cfg.Sandbox.Env)
	if err != nil {
		a.logger.Warn("monitor: relaunch failed", "task_id", task.ID, "error", err)
		if resetErr := a.deps.Tasks.ResetToNew(ctx, task.ID); resetErr != nil {
			a.logger.Warn("monitor: resetting task", "task_id", task.ID, "error", resetErr)
		}
		if h, resumeErr := journal.Resume(a.store, mapping.WorkflowSpanID); resumeErr == nil {
			_ = h.Annotate(map[string]any{"sandboxError": err.Error()})
		}
		return
	}
	if err := a.deps.Tasks.SetContainerInfo(ctx, task.ID, containerID); err != nil {
		a.logger.Warn("monitor: recording container", "task_id", task.ID, "error", err)
	}
}

// finishWorkflow enqueues the commit step and finalizes the workflow
// span. The enqueue happens first: a crash in between re-runs this
// path, and the resolver de-duplicates downstream.
func (a *Autopilot) finishWorkflow(actionID string, mapping core.TaskMapping, task *core.Task, summary string, completed bool) {
	commit, err := journal.WriteAction(a.store, journal.ActionOptions{
		Action: core.ActionCommit,
		SpanID: mapping.WorkflowSpanID,
		Meta: map[string]any{
			"taskId":           task.ID,
			"branchName":       mapping.BranchName,
			"workflowActionId": actionID,
		},
	})
	if err != nil {
		a.logger.Warn("monitor: writing commit action", "trace_id", mapping.TraceID, "error", err)
		return
	}
	if err := journal.Enqueue(a.store, mapping.TraceID, commit, core.StepWorkflow, summary); err != nil {
		a.logger.Warn("monitor: enqueueing commit", "trace_id", mapping.TraceID, "error", err)
		return
	}
	a.index.Append(mapping.TraceID, core.ActionStep{
		ActionID:  commit.ID,
		Action:    core.ActionCommit,
		Status:    core.StepPending,
		Timestamp: commit.Timestamp,
	})

	h, err := journal.Resume(a.store, mapping.WorkflowSpanID)
	if err != nil {
		a.logger.Warn("monitor: resuming workflow span", "trace_id", mapping.TraceID, "error", err)
		return
	}
	extra := map[string]any{"taskStatus": string(task.Status), "iteration": task.Iteration}
	if completed {
		if err := h.Complete(summary, extra); err != nil {
			a.logger.Warn("monitor: completing workflow span", "trace_id", mapping.TraceID, "error", err)
		}
		a.index.SetStepStatus(mapping.TraceID, actionID, core.StepCompleted)
	} else {
		if err := h.Fail(summary); err != nil {
			a.logger.Warn("monitor: failing workflow span", "trace_id", mapping.TraceID, "error", err)
		}
		a.index.SetStepStatus(mapping.TraceID, actionID, core.StepFailed)
	}

	a.logger.Info("workflow finished", "trace_id", mapping.TraceID, "task_id", task.ID, "summary", summary)
}

// slugify reduces a title to a branch-safe fragment.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 32 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
