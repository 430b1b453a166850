package core

import "time"

// ActionType names the work an action requests. Each type (except
// noop and clarify) is consumed by exactly one stage.
type ActionType string

const (
	ActionCoordinate ActionType = "coordinate"
	ActionPlan       ActionType = "plan"
	ActionWorkflow   ActionType = "workflow"
	ActionCommit     ActionType = "commit"
	ActionResolve    ActionType = "resolve"
	ActionPush       ActionType = "push"
	ActionNotify     ActionType = "notify"
	ActionNoop       ActionType = "noop"
	ActionClarify    ActionType = "clarify"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCoordinate, ActionPlan, ActionWorkflow, ActionCommit,
		ActionResolve, ActionPush, ActionNotify, ActionNoop, ActionClarify:
		return true
	}
	return false
}

// Action is an immutable, durable intent to perform work. It is
// produced by a span and, when queued, consumed by the stage matching
// its type.
type Action struct {
	ID        string         `json:"id"`
	Action    ActionType     `json:"action"`
	SpanID    string         `json:"spanId"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// PendingAction is a durable queue entry referencing an Action that a
// stage still has to process. Every PendingAction has a corresponding
// action file on disk before it is enqueued.
type PendingAction struct {
	TraceID   string         `json:"traceId"`
	ActionID  string         `json:"actionId"`
	SpanID    string         `json:"spanId"`
	Action    ActionType     `json:"action"`
	Summary   string         `json:"summary,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Meta      map[string]any `json:"meta,omitempty"`
}
