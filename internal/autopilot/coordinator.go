package autopilot

import (
	"context"
	"fmt"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// coordinateProcess decides the next action for a fresh trace. Push
// events resolve deterministically to noop; everything else asks the
// fast agent for a structured decision.
func (a *Autopilot) coordinateProcess(ctx context.Context, p core.PendingAction) error {
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	root, err := a.rootSpan(p.TraceID)
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepCoordinate,
		Parent: p.SpanID,
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	decision, err := a.coordinateDecide(ctx, root)
	if err != nil {
		return a.stageFailure(p, span, err)
	}

	summary := fmt.Sprintf("decision: %s", decision.Action)
	if err := span.Complete(summary, map[string]any{
		"decision":   string(decision.Action),
		"reasoning":  decision.Reasoning,
		"confidence": decision.Confidence,
	}); err != nil {
		return a.stageFailure(p, nil, err)
	}

	if decision.Action == core.ActionNoop {
		// The noop action is written for the record but never queued;
		// nothing consumes it and the trace ends here.
		if _, err := journal.WriteAction(a.store, journal.ActionOptions{
			Action:    core.ActionNoop,
			SpanID:    span.ID(),
			Reasoning: decision.Reasoning,
		}); err != nil {
			return a.stageFailure(p, nil, err)
		}
		journal.Log(a.store, p.TraceID, span.ID(), core.StepCoordinate, "noop: "+decision.Reasoning)
		return a.finishStep(p)
	}

	if _, err := a.advance(p, journal.ActionOptions{
		Action:    decision.Action,
		SpanID:    span.ID(),
		Reasoning: decision.Reasoning,
		Meta:      decision.Meta,
	}, core.StepCoordinate, summary); err != nil {
		return a.stageFailure(p, nil, err)
	}
	return a.finishStep(p)
}

// coordinateDecide produces the coordinator decision, using the
// deterministic fast path where the event type already determines the
// outcome.
func (a *Autopilot) coordinateDecide(ctx context.Context, root *core.Span) (*core.CoordinatorDecision, error) {
	if metaString(root.Meta, "type") == string(core.EventPushedRef) {
		return &core.CoordinatorDecision{
			Action:     core.ActionNoop,
			Reasoning:  "push events carry no request to act on",
			Confidence: 1,
		}, nil
	}

	prompt := buildEventContext(root.Meta)
	if extra := a.hostingContext(ctx, root.Meta); extra != "" {
		prompt += "\n" + extra
	}

	raw, err := a.deps.FastAgent.Invoke(ctx, prompt, core.InvokeOptions{
		JSON:         true,
		Model:        a.deps.FastModel,
		SystemPrompt: coordinatorSystemPrompt,
		Timeout:      a.cfg.Autopilot.AgentTimeout,
	})
	if err != nil {
		return nil, err
	}
	return core.ParseCoordinatorDecision(raw)
}

// hostingContext fetches issue/PR context for prompt enrichment.
// Failures degrade to an empty string; the event meta alone is enough
// to decide on.
func (a *Autopilot) hostingContext(ctx context.Context, meta map[string]any) string {
	if n := metaInt(meta, "prNumber"); n > 0 {
		text, err := a.deps.Hosting.PRContext(ctx, n)
		if err != nil {
			a.logger.Debug("coordinator: pr context unavailable", "pr", n, "error", err)
			return ""
		}
		return text
	}
	if n := metaInt(meta, "issueNumber"); n > 0 {
		text, err := a.deps.Hosting.IssueContext(ctx, n)
		if err != nil {
			a.logger.Debug("coordinator: issue context unavailable", "issue", n, "error", err)
			return ""
		}
		return text
	}
	return ""
}
