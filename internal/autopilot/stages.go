package autopilot

import (
	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// failTrace terminates a trace: the current span is finalized failed,
// every still-pending step is marked failed and the pending action is
// removed so no stage picks it up again.
func (a *Autopilot) failTrace(p core.PendingAction, span *journal.SpanHandle, reason string) error {
	if span != nil {
		if err := span.Fail(reason); err != nil {
			a.logger.Warn("finalizing failed span", "trace_id", p.TraceID, "error", err)
		}
	}
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepFailed)
	a.index.FailPendingSteps(p.TraceID)

	spanID := p.SpanID
	if span != nil {
		spanID = span.ID()
	}
	journal.Log(a.store, p.TraceID, spanID, core.Step(p.Action), "trace failed: "+reason)

	a.logger.Warn("trace failed", "trace_id", p.TraceID, "step", p.Action, "reason", reason)
	return a.store.RemovePending(p.ActionID)
}

// stageFailure routes a processing error. Trace-fatal errors terminate
// the trace. Transient errors leave the pending action queued so the
// next tick retries it; the trace retry counter belongs to resolver
// iterations and is not touched here.
func (a *Autopilot) stageFailure(p core.PendingAction, span *journal.SpanHandle, err error) error {
	if core.IsTraceFatal(err) {
		return a.failTrace(p, span, err.Error())
	}
	if core.IsSystemFatal(err) {
		if span != nil {
			_ = span.Error(err.Error())
		}
		return err
	}

	if span != nil {
		_ = span.Error(err.Error())
	}
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepPending)
	return err
}

// removeTracePending drops every queue entry belonging to a trace,
// used when a resolver decision makes the trace terminal.
func (a *Autopilot) removeTracePending(traceID string) error {
	pending, err := a.store.GetPending("")
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.TraceID != traceID {
			continue
		}
		if err := a.store.RemovePending(p.ActionID); err != nil {
			return err
		}
	}
	return nil
}

// advance finishes the current step and enqueues the next one: the
// action is written, queued, logged and projected into the index.
func (a *Autopilot) advance(p core.PendingAction, opts journal.ActionOptions, step core.Step, summary string) (*core.Action, error) {
	action, err := journal.WriteAction(a.store, opts)
	if err != nil {
		return nil, err
	}
	if err := journal.Enqueue(a.store, p.TraceID, action, step, summary); err != nil {
		return nil, err
	}
	a.index.Append(p.TraceID, core.ActionStep{
		ActionID:  action.ID,
		Action:    action.Action,
		Status:    core.StepPending,
		Timestamp: action.Timestamp,
		Reasoning: action.Reasoning,
	})
	return action, nil
}

// finishStep removes the pending action and marks its index step
// completed.
func (a *Autopilot) finishStep(p core.PendingAction) error {
	if err := a.store.RemovePending(p.ActionID); err != nil {
		return err
	}
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepCompleted)
	return nil
}

// rootSpan reads the event span the trace is rooted at. The trace id
// is the root span id.
func (a *Autopilot) rootSpan(traceID string) (*core.Span, error) {
	return a.store.ReadSpan(traceID)
}

// metaString reads a string value out of action meta.
func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// metaInt reads an integer out of action meta, tolerating the float64
// that JSON round-trips produce.
func metaInt(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
