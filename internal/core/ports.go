package core

import (
	"context"
	"time"
)

// =============================================================================
// Agent Port
// =============================================================================

// InvokeOptions configures a single agent invocation.
type InvokeOptions struct {
	JSON         bool          // expect machine-parseable JSON output
	Model        string        // override the adapter default model
	SystemPrompt string
	WorkDir      string
	Timeout      time.Duration
}

// Agent defines the contract for AI agent CLI adapters. Invoke runs a
// prompt through the agent and returns the text response; when
// opts.JSON is set the adapter extracts the JSON payload from mixed
// output before returning it.
type Agent interface {
	// Name returns the adapter identifier (e.g., "claude", "gemini").
	Name() string

	// Ping checks if the agent CLI is available and authenticated.
	Ping(ctx context.Context) error

	// Invoke runs a prompt through the agent and returns the result.
	Invoke(ctx context.Context, prompt string, opts InvokeOptions) (string, error)
}

// =============================================================================
// Task Manager Port
// =============================================================================

// TaskManager defines the contract with the external sandbox task
// store. Task records live under the project's tasks/ directory and
// their result files are written by the sandbox, so reads can fail
// transiently while a result is mid-write.
type TaskManager interface {
	CreateTask(ctx context.Context, desc TaskDescription) (*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)

	// Lifecycle transitions.
	MarkInProgress(ctx context.Context, id string) error
	MarkIterating(ctx context.Context, id string) error
	IncrementIteration(ctx context.Context, id string) (int, error)
	SetBaseCommit(ctx context.Context, id, commit string) error
	SetWorkspace(ctx context.Context, id, path, branch string) error
	SetContainerInfo(ctx context.Context, id, containerID string) error
	SetAgentImage(ctx context.Context, id, image string) error
	ResetToNew(ctx context.Context, id string) error
	MarkPushed(ctx context.Context, id string) error

	// UpdateStatusFromIteration re-reads the sandbox-written result
	// file of the latest iteration and updates the task status. It
	// fails transiently when the result file has not been written yet.
	UpdateStatusFromIteration(ctx context.Context, id string) (*Task, error)

	// IterationSummaries returns the per-iteration summaries recorded
	// so far, oldest first.
	IterationSummaries(ctx context.Context, id string) ([]string, error)
}

// =============================================================================
// Git Port
// =============================================================================

// CommitOptions configures a commit created by the committer stage.
type CommitOptions struct {
	Message string
	// Trailer is appended verbatim as the final line when non-empty
	// (attribution is policy-driven via project config).
	Trailer string
}

// GitClient defines the file-level git porcelain the autopilot uses,
// executed against a working directory.
type GitClient interface {
	CurrentBranch(ctx context.Context, dir string) (string, error)
	RevParse(ctx context.Context, dir, ref string) (string, error)
	RecentCommits(ctx context.Context, dir string, limit int) ([]string, error)

	// CreateWorktree creates a worktree at path with a fresh branch
	// off base and returns the worktree HEAD commit.
	CreateWorktree(ctx context.Context, path, branch, base string) (string, error)
	RemoveWorktree(ctx context.Context, path string) error
	SparseCheckoutExclude(ctx context.Context, dir string, patterns []string) error

	AddAll(ctx context.Context, dir string) error
	Commit(ctx context.Context, dir string, opts CommitOptions) (string, error)
	HasUncommittedChanges(ctx context.Context, dir string) (bool, error)

	Push(ctx context.Context, dir, remote, branch string) error

	// Rebase rebases dir onto ref and returns conflicted paths when
	// the rebase stops; an empty list means the rebase completed.
	Rebase(ctx context.Context, dir, onto string) ([]string, error)
	ContinueRebase(ctx context.Context, dir string) error
	AbortRebase(ctx context.Context, dir string) error
}

// =============================================================================
// Hosting Port
// =============================================================================

// HostingClient defines the code-hosting operations the autopilot
// needs: posting comments and fetching lightweight context for
// prompts.
type HostingClient interface {
	// CommentIssue posts a comment on an issue.
	CommentIssue(ctx context.Context, number int, body string) error

	// CommentPR posts a comment on a pull request.
	CommentPR(ctx context.Context, number int, body string) error

	// IssueContext returns a short textual description of an issue
	// (title and body) for prompt construction.
	IssueContext(ctx context.Context, number int) (string, error)

	// PRContext returns a short textual description of a pull request.
	PRContext(ctx context.Context, number int) (string, error)

	// Repo returns the owner/repo the client operates on.
	Repo() string
}

// =============================================================================
// Event Source Port
// =============================================================================

// EventSource fetches external repository activity. The processed-id
// cursor is owned by the store, not the source.
type EventSource interface {
	// FetchEvents returns recent events, newest first, bounded by
	// limit.
	FetchEvents(ctx context.Context, limit int) ([]Event, error)
}

// =============================================================================
// Sandbox Port
// =============================================================================

// SandboxOptions configures sandbox creation for a task.
type SandboxOptions struct {
	Image     string
	Workspace string
	Env       map[string]string
}

// Sandbox is a prepared container for one task iteration.
type Sandbox interface {
	// CreateAndStart creates and starts the container, returning the
	// container id.
	CreateAndStart(ctx context.Context) (string, error)
}

// SandboxFactory creates sandboxes for tasks.
type SandboxFactory interface {
	CreateSandbox(ctx context.Context, task *Task, opts SandboxOptions) (Sandbox, error)
}
