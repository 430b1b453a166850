package autopilot

import (
	"context"
	"fmt"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// resolveSelect admits at most one resolve action per trace per tick,
// earliest first. Duplicate resolves (a crash can re-enqueue the
// commit step) are redundant and removed from the queue outright.
func (a *Autopilot) resolveSelect(_ context.Context, pending []core.PendingAction) []core.PendingAction {
	seen := make(map[string]struct{}, len(pending))
	var out []core.PendingAction
	for _, p := range pending {
		if _, dup := seen[p.TraceID]; dup {
			if err := a.store.RemovePending(p.ActionID); err != nil {
				a.logger.Warn("resolver: dropping duplicate", "trace_id", p.TraceID, "error", err)
				continue
			}
			a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepCompleted)
			continue
		}
		seen[p.TraceID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// resolveShouldWait reports whether sibling workflow or commit chains
// of the trace are still in flight. Resolution waits for all of them
// so the decision sees the whole picture.
func (a *Autopilot) resolveShouldWait(p core.PendingAction) bool {
	for _, s := range a.index.Steps(p.TraceID) {
		if s.ActionID == p.ActionID {
			continue
		}
		switch s.Action {
		case core.ActionWorkflow, core.ActionCommit:
			if s.Status == core.StepPending || s.Status == core.StepRunning {
				return true
			}
		}
	}
	return false
}

// resolveProcess decides what happens after a commit attempt. Clear
// cases resolve deterministically; only a task that neither succeeded
// cleanly nor can be closed goes to the AI, and the retry gate bounds
// how often that can end in another iteration.
func (a *Autopilot) resolveProcess(ctx context.Context, p core.PendingAction) error {
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	commitSpan, err := a.store.ReadSpan(p.SpanID)
	if err != nil {
		return a.stageFailure(p, nil, err)
	}
	task, err := a.deps.Tasks.GetTask(ctx, metaString(p.Meta, "taskId"))
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepResolve,
		Parent: p.SpanID,
		Meta:   map[string]any{"taskId": task.ID},
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	commitSha := metaString(commitSpan.Meta, "commitSha")
	commitError := metaString(commitSpan.Meta, "commitError")

	switch {
	case task.Status == core.TaskPushed || task.Status == core.TaskMerged:
		// A duplicate resolve after the branch already went out.
		if err := span.Complete("task already delivered", nil); err != nil {
			return a.stageFailure(p, nil, err)
		}
		return a.finishStep(p)

	case commitError != "":
		// Terminal: a task that ran but produced no commit ends here.
		// Nothing goes out, so nobody is notified.
		if err := span.Annotate(map[string]any{"decision": "noop"}); err != nil {
			return a.stageFailure(p, nil, err)
		}
		if err := span.Fail("git commit failed: " + commitError); err != nil {
			return a.stageFailure(p, nil, err)
		}
		a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepFailed)
		journal.Log(a.store, p.TraceID, span.ID(), core.StepResolve, "trace closed: "+commitError)
		a.logger.Info("resolve: no pushable result", "trace_id", p.TraceID, "task_id", task.ID, "reason", commitError)
		return a.store.RemovePending(p.ActionID)
	}

	if a.resolveShouldWait(p) {
		// A sibling chain resolves later and will see the full trace.
		if err := span.Complete("deferred: sibling steps still in flight", map[string]any{"decision": "wait"}); err != nil {
			return a.stageFailure(p, nil, err)
		}
		journal.Log(a.store, p.TraceID, span.ID(), core.StepResolve, "resolve deferred: sibling steps still in flight")
		return a.finishStep(p)
	}

	switch {
	case task.Status == core.TaskCompleted && commitSha != "":
		if err := span.Complete(fmt.Sprintf("push %.8s", commitSha), map[string]any{"decision": "push"}); err != nil {
			return a.stageFailure(p, nil, err)
		}
		if _, err := a.advance(p, journal.ActionOptions{
			Action: core.ActionPush,
			SpanID: span.ID(),
			Meta: map[string]any{
				"taskId":     task.ID,
				"branchName": metaString(p.Meta, "branchName"),
				"commitSha":  commitSha,
			},
		}, core.StepResolve, "push "+metaString(p.Meta, "branchName")); err != nil {
			return a.stageFailure(p, nil, err)
		}
		return a.finishStep(p)
	}

	// Ambiguous: the task failed, or finished without a clean commit.
	if a.index.RetryCount(p.TraceID) >= a.cfg.Autopilot.MaxRetries {
		return a.resolveFail(p, span, task, fmt.Sprintf("max retries (%d) exceeded", a.cfg.Autopilot.MaxRetries))
	}

	decision, err := a.resolveDecide(ctx, p, task)
	if err != nil {
		return a.stageFailure(p, span, err)
	}

	if decision.Decision == core.ResolveFail {
		return a.resolveFail(p, span, task, decision.FailReason)
	}

	a.index.IncrementRetry(p.TraceID)
	if err := span.Complete("iterate: "+decision.Reasoning, map[string]any{
		"decision":   "iterate",
		"retryCount": a.index.RetryCount(p.TraceID),
	}); err != nil {
		return a.stageFailure(p, nil, err)
	}
	if _, err := a.advance(p, journal.ActionOptions{
		Action: core.ActionWorkflow,
		SpanID: span.ID(),
		Meta: map[string]any{
			"taskId":       task.ID,
			"branchName":   metaString(p.Meta, "branchName"),
			"instructions": decision.IterateInstructions,
		},
	}, core.StepResolve, fmt.Sprintf("iterate task %s", task.ID)); err != nil {
		return a.stageFailure(p, nil, err)
	}
	return a.finishStep(p)
}

// resolveDecide asks the fast agent whether another iteration is worth
// attempting.
func (a *Autopilot) resolveDecide(ctx context.Context, p core.PendingAction, task *core.Task) (*core.ResolveDecision, error) {
	summaries, err := a.deps.Tasks.IterationSummaries(ctx, task.ID)
	if err != nil {
		a.logger.Debug("resolver: iteration summaries unavailable", "task_id", task.ID, "error", err)
	}
	prompt := buildResolverPrompt(task, summaries, a.index.Steps(p.TraceID))

	raw, err := a.deps.FastAgent.Invoke(ctx, prompt, core.InvokeOptions{
		JSON:         true,
		Model:        a.deps.FastModel,
		SystemPrompt: resolverSystemPrompt,
		Timeout:      a.cfg.Autopilot.AgentTimeout,
	})
	if err != nil {
		return nil, err
	}
	return core.ParseResolveDecision(raw), nil
}

// resolveFail terminates the trace: the resolve span is finalized
// failed with the decision in its meta, every still-pending step is
// marked failed and the trace's remaining queue entries are dropped.
func (a *Autopilot) resolveFail(p core.PendingAction, span *journal.SpanHandle, task *core.Task, reason string) error {
	if err := span.Annotate(map[string]any{"decision": "fail", "reason": reason}); err != nil {
		return a.stageFailure(p, nil, err)
	}
	if err := span.Fail("fail: " + reason); err != nil {
		return a.stageFailure(p, nil, err)
	}
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepFailed)
	a.index.FailPendingSteps(p.TraceID)
	journal.Log(a.store, p.TraceID, span.ID(), core.StepResolve, "trace failed: "+reason)
	a.logger.Warn("trace failed", "trace_id", p.TraceID, "task_id", task.ID, "reason", reason)
	return a.removeTracePending(p.TraceID)
}
