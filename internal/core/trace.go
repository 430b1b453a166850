package core

import "time"

// StepStatus is the status of a single step in a trace projection.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ActionStep is one entry in the linear projection of a trace. The
// trace is a DAG in storage; in memory it is rendered as an ordered
// step list in causal order.
type ActionStep struct {
	ActionID   string     `json:"actionId"`
	Action     ActionType `json:"action"`
	Status     StepStatus `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Reasoning  string     `json:"reasoning,omitempty"`
	RetryCount int        `json:"retryCount,omitempty"`
}

// TraceSnapshot is the persisted form of one trace's projection, used
// for fast restart. Spans and actions on disk remain authoritative.
type TraceSnapshot struct {
	TraceID    string       `json:"traceId"`
	Steps      []ActionStep `json:"steps"`
	RetryCount int          `json:"retryCount,omitempty"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}
