// Package journal is the only authorized producer of durable
// autopilot state: it starts and finalizes spans, writes actions, and
// grows the pending queue. Stages never touch span or action files
// directly.
package journal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/endorhq/rover/internal/autopilot/store"
	"github.com/endorhq/rover/internal/core"
)

// SpanOptions configures a new span.
type SpanOptions struct {
	Step   core.Step
	Parent string // empty for root spans
	Meta   map[string]any
}

// SpanHandle wraps a running span until it is finalized. A handle is
// single-use: Complete, Fail and Error return an error once the span
// has been finalized.
type SpanHandle struct {
	store *store.Store
	span  *core.Span
	done  bool
}

// StartSpan creates a running span and persists it immediately.
func StartSpan(st *store.Store, opts SpanOptions) (*SpanHandle, error) {
	span := &core.Span{
		ID:        uuid.NewString(),
		Parent:    opts.Parent,
		Step:      opts.Step,
		Timestamp: time.Now().UTC(),
		Status:    core.SpanRunning,
		Meta:      opts.Meta,
	}
	if err := st.WriteSpan(span); err != nil {
		return nil, err
	}
	return &SpanHandle{store: st, span: span}, nil
}

// Resume wraps an existing running span so a later tick (or a restart)
// can finalize it. Finalized spans cannot be resumed.
func Resume(st *store.Store, spanID string) (*SpanHandle, error) {
	span, err := st.ReadSpan(spanID)
	if err != nil {
		return nil, err
	}
	if span.Status.Terminal() {
		return nil, core.ErrTrace(core.CodeSpanMissing,
			fmt.Sprintf("span %s is already finalized (%s)", spanID, span.Status))
	}
	return &SpanHandle{store: st, span: span}, nil
}

// ID returns the span id.
func (h *SpanHandle) ID() string {
	return h.span.ID
}

// Span returns the underlying span.
func (h *SpanHandle) Span() *core.Span {
	return h.span
}

// Annotate merges meta into the still-running span and persists it.
// Finalized spans cannot be annotated.
func (h *SpanHandle) Annotate(meta map[string]any) error {
	if h.done {
		return core.ErrTrace(core.CodeSpanMissing,
			fmt.Sprintf("span %s is already finalized", h.span.ID))
	}
	if h.span.Meta == nil {
		h.span.Meta = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		h.span.Meta[k] = v
	}
	return h.store.WriteSpan(h.span)
}

func (h *SpanHandle) finalize(status core.SpanStatus, summary string, extra map[string]any) error {
	if h.done {
		return core.ErrTrace(core.CodeSpanMissing,
			fmt.Sprintf("span %s finalized twice", h.span.ID))
	}
	now := time.Now().UTC()
	h.span.Status = status
	h.span.Summary = summary
	h.span.Completed = &now
	if len(extra) > 0 {
		if h.span.Meta == nil {
			h.span.Meta = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			h.span.Meta[k] = v
		}
	}
	if err := h.store.WriteSpan(h.span); err != nil {
		return err
	}
	h.done = true
	return nil
}

// Complete finalizes the span as completed, optionally merging extra
// meta.
func (h *SpanHandle) Complete(summary string, extra map[string]any) error {
	return h.finalize(core.SpanCompleted, summary, extra)
}

// Fail finalizes the span as failed (the work ran and did not
// succeed).
func (h *SpanHandle) Fail(summary string) error {
	return h.finalize(core.SpanFailed, summary, nil)
}

// Error finalizes the span as errored (the stage itself broke; the
// pending action usually stays queued for retry).
func (h *SpanHandle) Error(summary string) error {
	return h.finalize(core.SpanError, summary, nil)
}

// ActionOptions configures a new action. ID, when set, is used
// instead of a fresh uuid so callers can cross-reference sibling
// actions before any of them is written.
type ActionOptions struct {
	ID        string
	Action    core.ActionType
	SpanID    string
	Reasoning string
	Meta      map[string]any
}

// WriteAction creates an action and persists it.
func WriteAction(st *store.Store, opts ActionOptions) (*core.Action, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	a := &core.Action{
		ID:        id,
		Action:    opts.Action,
		SpanID:    opts.SpanID,
		Timestamp: time.Now().UTC(),
		Meta:      opts.Meta,
		Reasoning: opts.Reasoning,
	}
	if err := st.WriteAction(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Enqueue adds a PendingAction for an already-written action and logs
// a single line joining span, action and trace. It is the only place
// the pending queue grows.
func Enqueue(st *store.Store, traceID string, action *core.Action, step core.Step, summary string) error {
	pending := core.PendingAction{
		TraceID:   traceID,
		ActionID:  action.ID,
		SpanID:    action.SpanID,
		Action:    action.Action,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
		Meta:      action.Meta,
	}
	if err := st.AddPending(pending); err != nil {
		return err
	}
	return st.AppendLog(store.LogEntry{
		TraceID:  traceID,
		SpanID:   action.SpanID,
		ActionID: action.ID,
		Step:     step,
		Action:   action.Action,
		Summary:  summary,
	})
}

// Log appends a diagnostic log line without touching the queue.
func Log(st *store.Store, traceID, spanID string, step core.Step, summary string) {
	// Log failures are swallowed: the log is diagnostic only.
	_ = st.AppendLog(store.LogEntry{
		TraceID: traceID,
		SpanID:  spanID,
		Step:    step,
		Summary: summary,
	})
}
