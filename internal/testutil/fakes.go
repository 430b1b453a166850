// Package testutil provides in-memory fakes for the core ports, used
// by stage and adapter tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/endorhq/rover/internal/core"
)

var (
	_ core.Agent          = (*FakeAgent)(nil)
	_ core.TaskManager    = (*FakeTasks)(nil)
	_ core.GitClient      = (*FakeGit)(nil)
	_ core.HostingClient  = (*FakeHosting)(nil)
	_ core.EventSource    = (*FakeEvents)(nil)
	_ core.SandboxFactory = (*FakeSandboxFactory)(nil)
)

// =============================================================================
// Agent
// =============================================================================

// AgentCall records one Invoke call.
type AgentCall struct {
	Prompt string
	Opts   core.InvokeOptions
}

// FakeAgent is a scripted core.Agent. InvokeFn, when set, decides the
// answer per call; otherwise Response/Err are returned for every call.
type FakeAgent struct {
	AgentName string
	Response  string
	Err       error
	InvokeFn  func(ctx context.Context, prompt string, opts core.InvokeOptions) (string, error)

	mu    sync.Mutex
	Calls []AgentCall
}

func (f *FakeAgent) Name() string {
	if f.AgentName == "" {
		return "fake"
	}
	return f.AgentName
}

func (f *FakeAgent) Ping(context.Context) error { return nil }

func (f *FakeAgent) Invoke(ctx context.Context, prompt string, opts core.InvokeOptions) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, AgentCall{Prompt: prompt, Opts: opts})
	f.mu.Unlock()

	if f.InvokeFn != nil {
		return f.InvokeFn(ctx, prompt, opts)
	}
	return f.Response, f.Err
}

// CallCount returns how many times Invoke was called.
func (f *FakeAgent) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// =============================================================================
// Task manager
// =============================================================================

// FakeTasks is an in-memory core.TaskManager. Iteration results are
// staged with StageResult and consumed by UpdateStatusFromIteration,
// mirroring the sandbox-writes-the-file contract.
type FakeTasks struct {
	mu      sync.Mutex
	tasks   map[string]*core.Task
	results map[string]stagedResult
	next    int

	// Summaries returned by IterationSummaries, keyed by task id.
	Summaries map[string][]string

	// Errors injected into specific operations.
	CreateErr error
	ListErr   error
}

type stagedResult struct {
	status core.TaskStatus
	errMsg string
}

// NewFakeTasks creates an empty fake task manager.
func NewFakeTasks() *FakeTasks {
	return &FakeTasks{
		tasks:     make(map[string]*core.Task),
		results:   make(map[string]stagedResult),
		Summaries: make(map[string][]string),
	}
}

// Add registers an existing task record.
func (f *FakeTasks) Add(t *core.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

// StageResult stages the outcome the next UpdateStatusFromIteration
// call folds into the task.
func (f *FakeTasks) StageResult(id string, status core.TaskStatus, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = stagedResult{status: status, errMsg: errMsg}
}

// Task returns the current record for assertions.
func (f *FakeTasks) Task(id string) *core.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id]
}

func (f *FakeTasks) CreateTask(_ context.Context, desc core.TaskDescription) (*core.Task, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	now := time.Now().UTC()
	t := &core.Task{
		ID:          fmt.Sprintf("task-%d", f.next),
		Title:       desc.Title,
		Description: desc.Description,
		Workflow:    desc.Workflow,
		Status:      core.TaskNew,
		Iteration:   1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *FakeTasks) GetTask(_ context.Context, id string) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, core.ErrTrace(core.CodeTaskNotFound, "task not found: "+id)
	}
	cp := *t
	return &cp, nil
}

func (f *FakeTasks) ListTasks(context.Context) ([]*core.Task, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*core.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeTasks) update(id string, fn func(*core.Task)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return core.ErrTrace(core.CodeTaskNotFound, "task not found: "+id)
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *FakeTasks) MarkInProgress(_ context.Context, id string) error {
	return f.update(id, func(t *core.Task) { t.Status = core.TaskInProgress })
}

func (f *FakeTasks) MarkIterating(_ context.Context, id string) error {
	return f.update(id, func(t *core.Task) { t.Status = core.TaskIterating })
}

func (f *FakeTasks) IncrementIteration(_ context.Context, id string) (int, error) {
	var n int
	err := f.update(id, func(t *core.Task) {
		t.Iteration++
		n = t.Iteration
	})
	return n, err
}

func (f *FakeTasks) SetBaseCommit(_ context.Context, id, commit string) error {
	return f.update(id, func(t *core.Task) { t.BaseCommit = commit })
}

func (f *FakeTasks) SetWorkspace(_ context.Context, id, path, branch string) error {
	return f.update(id, func(t *core.Task) {
		t.Workspace = path
		t.Branch = branch
	})
}

func (f *FakeTasks) SetContainerInfo(_ context.Context, id, containerID string) error {
	return f.update(id, func(t *core.Task) { t.ContainerID = containerID })
}

func (f *FakeTasks) SetAgentImage(_ context.Context, id, image string) error {
	return f.update(id, func(t *core.Task) { t.AgentImage = image })
}

func (f *FakeTasks) ResetToNew(_ context.Context, id string) error {
	return f.update(id, func(t *core.Task) {
		t.Status = core.TaskNew
		t.ContainerID = ""
	})
}

func (f *FakeTasks) MarkPushed(_ context.Context, id string) error {
	return f.update(id, func(t *core.Task) { t.Status = core.TaskPushed })
}

func (f *FakeTasks) UpdateStatusFromIteration(_ context.Context, id string) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tasks[id]
	if !ok {
		return nil, core.ErrTrace(core.CodeTaskNotFound, "task not found: "+id)
	}
	r, ok := f.results[id]
	if !ok {
		return nil, core.ErrTransient(core.CodeResultPending, "result not written yet")
	}
	t.Status = r.status
	t.Error = r.errMsg
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (f *FakeTasks) IterationSummaries(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Summaries[id], nil
}

// =============================================================================
// Git
// =============================================================================

// FakeGit is a scripted core.GitClient. Calls records the method names
// in invocation order.
type FakeGit struct {
	mu    sync.Mutex
	Calls []string

	Branch       string
	Head         string
	WorktreeHead string
	Changes      bool
	CommitSHA    string
	CommitErr    error
	// Log is returned by RecentCommits.
	Log []string

	// LastWorktreeBase and LastCommit record the arguments of the most
	// recent CreateWorktree and Commit calls.
	LastWorktreeBase string
	LastCommit       core.CommitOptions
	PushErr      error
	// PushErrOnce makes only the first Push fail, so the
	// rebase-then-retry path can succeed.
	PushErrOnce bool
	pushCount   int

	RebaseConflicts []string
	RebaseErr       error
}

func (g *FakeGit) record(name string) {
	g.mu.Lock()
	g.Calls = append(g.Calls, name)
	g.mu.Unlock()
}

// Called reports whether the named method was invoked.
func (g *FakeGit) Called(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.Calls {
		if c == name {
			return true
		}
	}
	return false
}

func (g *FakeGit) CurrentBranch(context.Context, string) (string, error) {
	g.record("CurrentBranch")
	return g.Branch, nil
}

func (g *FakeGit) RevParse(context.Context, string, string) (string, error) {
	g.record("RevParse")
	if g.Head == "" {
		return "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", nil
	}
	return g.Head, nil
}

func (g *FakeGit) RecentCommits(context.Context, string, int) ([]string, error) {
	g.record("RecentCommits")
	return g.Log, nil
}

func (g *FakeGit) CreateWorktree(_ context.Context, _, _, base string) (string, error) {
	g.record("CreateWorktree")
	g.mu.Lock()
	g.LastWorktreeBase = base
	g.mu.Unlock()
	if g.WorktreeHead != "" {
		return g.WorktreeHead, nil
	}
	return base, nil
}

func (g *FakeGit) RemoveWorktree(context.Context, string) error {
	g.record("RemoveWorktree")
	return nil
}

func (g *FakeGit) SparseCheckoutExclude(context.Context, string, []string) error {
	g.record("SparseCheckoutExclude")
	return nil
}

func (g *FakeGit) AddAll(context.Context, string) error {
	g.record("AddAll")
	return nil
}

func (g *FakeGit) Commit(_ context.Context, _ string, opts core.CommitOptions) (string, error) {
	g.record("Commit")
	g.mu.Lock()
	g.LastCommit = opts
	g.mu.Unlock()
	if g.CommitErr != nil {
		return "", g.CommitErr
	}
	if g.CommitSHA == "" {
		return "cafebabecafebabecafebabecafebabecafebabe", nil
	}
	return g.CommitSHA, nil
}

func (g *FakeGit) HasUncommittedChanges(context.Context, string) (bool, error) {
	g.record("HasUncommittedChanges")
	return g.Changes, nil
}

func (g *FakeGit) Push(context.Context, string, string, string) error {
	g.record("Push")
	g.mu.Lock()
	g.pushCount++
	n := g.pushCount
	g.mu.Unlock()
	if g.PushErr != nil && (!g.PushErrOnce || n == 1) {
		return g.PushErr
	}
	return nil
}

func (g *FakeGit) Rebase(context.Context, string, string) ([]string, error) {
	g.record("Rebase")
	return g.RebaseConflicts, g.RebaseErr
}

func (g *FakeGit) ContinueRebase(context.Context, string) error {
	g.record("ContinueRebase")
	return nil
}

func (g *FakeGit) AbortRebase(context.Context, string) error {
	g.record("AbortRebase")
	return nil
}

// =============================================================================
// Hosting
// =============================================================================

// Comment records one posted comment.
type Comment struct {
	Kind   string // issue or pr
	Number int
	Body   string
}

// FakeHosting is a scripted core.HostingClient.
type FakeHosting struct {
	mu       sync.Mutex
	Comments []Comment

	IssueCtx   string
	PRCtx      string
	CommentErr error
	ContextErr error
}

func (h *FakeHosting) CommentIssue(_ context.Context, number int, body string) error {
	if h.CommentErr != nil {
		return h.CommentErr
	}
	h.mu.Lock()
	h.Comments = append(h.Comments, Comment{Kind: "issue", Number: number, Body: body})
	h.mu.Unlock()
	return nil
}

func (h *FakeHosting) CommentPR(_ context.Context, number int, body string) error {
	if h.CommentErr != nil {
		return h.CommentErr
	}
	h.mu.Lock()
	h.Comments = append(h.Comments, Comment{Kind: "pr", Number: number, Body: body})
	h.mu.Unlock()
	return nil
}

func (h *FakeHosting) IssueContext(context.Context, int) (string, error) {
	return h.IssueCtx, h.ContextErr
}

func (h *FakeHosting) PRContext(context.Context, int) (string, error) {
	return h.PRCtx, h.ContextErr
}

func (h *FakeHosting) Repo() string { return "acme/widgets" }

// Posted returns the recorded comments.
func (h *FakeHosting) Posted() []Comment {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Comment, len(h.Comments))
	copy(out, h.Comments)
	return out
}

// =============================================================================
// Event source
// =============================================================================

// FakeEvents serves a fixed event feed.
type FakeEvents struct {
	Events []core.Event
	Err    error
}

func (f *FakeEvents) FetchEvents(context.Context, int) ([]core.Event, error) {
	return f.Events, f.Err
}

// =============================================================================
// Sandbox
// =============================================================================

// FakeSandboxFactory creates fake sandboxes. StartErr makes
// CreateAndStart fail; Launches counts successful starts.
type FakeSandboxFactory struct {
	mu       sync.Mutex
	LastOpts core.SandboxOptions
	Launches int

	ContainerID string
	CreateErr   error
	StartErr    error
}

func (f *FakeSandboxFactory) CreateSandbox(_ context.Context, _ *core.Task, opts core.SandboxOptions) (core.Sandbox, error) {
	f.mu.Lock()
	f.LastOpts = opts
	f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return &fakeSandbox{factory: f}, nil
}

// Opts returns the options of the most recent CreateSandbox call.
func (f *FakeSandboxFactory) Opts() core.SandboxOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LastOpts
}

type fakeSandbox struct {
	factory *FakeSandboxFactory
}

func (s *fakeSandbox) CreateAndStart(context.Context) (string, error) {
	if s.factory.StartErr != nil {
		return "", s.factory.StartErr
	}
	s.factory.mu.Lock()
	s.factory.Launches++
	s.factory.mu.Unlock()
	if s.factory.ContainerID == "" {
		return "container-1", nil
	}
	return s.factory.ContainerID, nil
}
