package autopilot

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// planProcess breaks the trace's request into workflow items. Every
// item becomes one queued workflow action; dependencies between
// sibling items are resolved to the generated action ids before
// anything is persisted.
func (a *Autopilot) planProcess(ctx context.Context, p core.PendingAction) error {
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	root, err := a.rootSpan(p.TraceID)
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepPlan,
		Parent: p.SpanID,
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	prompt := buildEventContext(root.Meta)
	if extra := a.hostingContext(ctx, root.Meta); extra != "" {
		prompt += "\n" + extra
	}

	raw, err := a.deps.Agent.Invoke(ctx, prompt, core.InvokeOptions{
		JSON:         true,
		SystemPrompt: plannerSystemPrompt,
		Timeout:      a.cfg.Autopilot.AgentTimeout,
	})
	if err != nil {
		return a.stageFailure(p, span, err)
	}

	items, err := core.ParsePlan(raw)
	if err != nil {
		return a.stageFailure(p, span, err)
	}

	if err := span.Complete(fmt.Sprintf("planned %d items", len(items)), map[string]any{
		"itemCount": len(items),
	}); err != nil {
		return a.stageFailure(p, nil, err)
	}

	// Ids are assigned up front so a depends_on sibling index can be
	// resolved to a real action id before anything is written.
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = uuid.NewString()
	}

	for i, item := range items {
		meta := map[string]any{
			"title":       item.Title,
			"description": item.Description,
		}
		if item.Workflow != "" {
			meta["workflow"] = item.Workflow
		}
		if item.AcceptanceCriteria != "" {
			meta["acceptanceCriteria"] = item.AcceptanceCriteria
		}
		if item.Context != "" {
			meta["context"] = item.Context
		}
		if item.DependsOn != nil {
			meta["dependsOnActionID"] = ids[*item.DependsOn]
		}
		action, err := journal.WriteAction(a.store, journal.ActionOptions{
			ID:     ids[i],
			Action: core.ActionWorkflow,
			SpanID: span.ID(),
			Meta:   meta,
		})
		if err != nil {
			return a.stageFailure(p, nil, err)
		}
		if err := journal.Enqueue(a.store, p.TraceID, action, core.StepPlan, item.Title); err != nil {
			return a.stageFailure(p, nil, err)
		}
		a.index.Append(p.TraceID, core.ActionStep{
			ActionID:  action.ID,
			Action:    core.ActionWorkflow,
			Status:    core.StepPending,
			Timestamp: action.Timestamp,
			Reasoning: item.Title,
		})
	}

	return a.finishStep(p)
}
