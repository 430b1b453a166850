package core

import "time"

// TaskStatus is the lifecycle state of an external sandbox task.
type TaskStatus string

const (
	TaskNew        TaskStatus = "NEW"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskIterating  TaskStatus = "ITERATING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskMerged     TaskStatus = "MERGED"
	TaskPushed     TaskStatus = "PUSHED"
)

// Terminal reports whether the task has finished executing.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskMerged, TaskPushed:
		return true
	}
	return false
}

// Active reports whether the task occupies a running-task slot.
func (s TaskStatus) Active() bool {
	return s == TaskInProgress || s == TaskIterating
}

// Task is the autopilot's view of an external sandbox task. The task
// manager owns the full record; the core reads status, workspace and
// iteration bookkeeping.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Workflow    string     `json:"workflow,omitempty"`
	Status      TaskStatus `json:"status"`
	Iteration   int        `json:"iteration"`
	Workspace   string     `json:"workspace,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	BaseCommit  string     `json:"base_commit,omitempty"`
	AgentImage  string     `json:"agent_image,omitempty"`
	ContainerID string     `json:"container_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskDescription is the creation payload for a sandbox task,
// carrying the plan-item meta the workflow stage launches from.
type TaskDescription struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	Workflow           string `json:"workflow,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
	Context            string `json:"context,omitempty"`
}

// TaskMapping links a workflow action to the sandbox task it
// launched. Written once by the workflow stage, read by the monitor
// and the resolver.
type TaskMapping struct {
	TaskID         string `json:"taskId"`
	BranchName     string `json:"branchName"`
	TraceID        string `json:"traceId"`
	WorkflowSpanID string `json:"workflowSpanId"`
}
