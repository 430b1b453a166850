package core

import "time"

// Step identifies the pipeline stage a span belongs to.
type Step string

const (
	StepEvent      Step = "event"
	StepCoordinate Step = "coordinate"
	StepPlan       Step = "plan"
	StepWorkflow   Step = "workflow"
	StepCommit     Step = "commit"
	StepResolve    Step = "resolve"
	StepPush       Step = "push"
	StepNotify     Step = "notify"
)

// SpanStatus is the lifecycle status of a span.
type SpanStatus string

const (
	SpanRunning   SpanStatus = "running"
	SpanCompleted SpanStatus = "completed"
	SpanFailed    SpanStatus = "failed"
	SpanError     SpanStatus = "error"
)

// Terminal reports whether the status finalizes a span.
func (s SpanStatus) Terminal() bool {
	return s == SpanCompleted || s == SpanFailed || s == SpanError
}

// Span is an immutable causal node in a trace. Root spans (step
// "event") have an empty Parent. A running span is finalized exactly
// once by setting a terminal status and the Completed timestamp; it
// must not change afterwards.
type Span struct {
	ID        string         `json:"id"`
	Parent    string         `json:"parent,omitempty"`
	Step      Step           `json:"step"`
	Timestamp time.Time      `json:"timestamp"`
	Summary   string         `json:"summary,omitempty"`
	Status    SpanStatus     `json:"status"`
	Meta      map[string]any `json:"meta,omitempty"`
	Completed *time.Time     `json:"completed,omitempty"`
}

// IsRoot reports whether the span is the root of its trace.
func (s *Span) IsRoot() bool {
	return s.Parent == ""
}
