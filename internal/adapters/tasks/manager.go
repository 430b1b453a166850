// Package tasks implements the TaskManager port over a file-backed
// task store. Each task lives under tasks/<id>/ with a task.json
// record and per-iteration directories; the sandbox agent writes the
// iteration result file, so result reads can fail transiently while a
// write is in flight.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/fsutil"
	"github.com/endorhq/rover/internal/logging"
)

const (
	taskFile   = "task.json"
	resultFile = "result.json"
)

// iterationResult is the file the sandbox agent writes when an
// iteration finishes.
type iterationResult struct {
	Status  string `json:"status"` // completed or failed
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Manager is a file-backed task manager.
type Manager struct {
	baseDir string
	logger  *logging.Logger

	mu sync.Mutex
}

// NewManager creates a manager rooted at baseDir (the tasks/
// directory is created on demand).
func NewManager(baseDir string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{baseDir: baseDir, logger: logger}
}

// TasksDir returns the directory task records live under.
func (m *Manager) TasksDir() string {
	return filepath.Join(m.baseDir, "tasks")
}

func (m *Manager) taskDir(id string) string {
	return filepath.Join(m.TasksDir(), id)
}

func (m *Manager) taskPath(id string) string {
	return filepath.Join(m.taskDir(id), taskFile)
}

func (m *Manager) iterationDir(id string, n int) string {
	return filepath.Join(m.taskDir(id), "iterations", strconv.Itoa(n))
}

// CreateTask creates a new task record in status NEW.
func (m *Manager) CreateTask(_ context.Context, desc TaskDescription) (*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	task := &core.Task{
		ID:          uuid.NewString(),
		Title:       desc.Title,
		Description: desc.Description,
		Workflow:    desc.Workflow,
		Status:      core.TaskNew,
		Iteration:   1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := fsutil.EnsureDir(m.taskDir(task.ID)); err != nil {
		return nil, core.ErrTransient(core.CodeIo, "creating task directory").WithCause(err)
	}
	if desc.AcceptanceCriteria != "" || desc.Context != "" {
		if err := m.writeDescription(task.ID, desc); err != nil {
			return nil, err
		}
	}
	if err := m.write(task); err != nil {
		return nil, err
	}
	m.logger.Debug("tasks: created", "task_id", task.ID, "title", task.Title)
	return task, nil
}

// writeDescription persists the full creation payload alongside the
// task record so the sandbox agent can read acceptance criteria and
// context.
func (m *Manager) writeDescription(id string, desc TaskDescription) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return core.ErrTransient(core.CodeIo, "encoding task description").WithCause(err)
	}
	path := filepath.Join(m.taskDir(id), "description.json")
	if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
		return core.ErrTransient(core.CodeIo, "writing task description").WithCause(err)
	}
	return nil
}

// GetTask reads a task record.
func (m *Manager) GetTask(_ context.Context, id string) (*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(id)
}

// ListTasks returns all task records, unordered.
func (m *Manager) ListTasks(_ context.Context) ([]*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.TasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrTransient(core.CodeIo, "listing tasks").WithCause(err)
	}

	var tasks []*core.Task
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		task, err := m.read(e.Name())
		if err != nil {
			m.logger.Warn("tasks: skipping unreadable record", "task_id", e.Name(), "error", err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// MarkInProgress transitions the task to IN_PROGRESS.
func (m *Manager) MarkInProgress(_ context.Context, id string) error {
	return m.update(id, func(t *core.Task) {
		t.Status = core.TaskInProgress
	})
}

// MarkIterating transitions the task to ITERATING.
func (m *Manager) MarkIterating(_ context.Context, id string) error {
	return m.update(id, func(t *core.Task) {
		t.Status = core.TaskIterating
	})
}

// IncrementIteration bumps the iteration counter and returns the new
// value.
func (m *Manager) IncrementIteration(_ context.Context, id string) (int, error) {
	var n int
	err := m.update(id, func(t *core.Task) {
		t.Iteration++
		n = t.Iteration
	})
	return n, err
}

// SetBaseCommit records the commit the task branched from.
func (m *Manager) SetBaseCommit(_ context.Context, id, commit string) error {
	return m.update(id, func(t *core.Task) {
		t.BaseCommit = commit
	})
}

// SetWorkspace records the worktree path and branch of the task.
func (m *Manager) SetWorkspace(_ context.Context, id, path, branch string) error {
	return m.update(id, func(t *core.Task) {
		t.Workspace = path
		t.Branch = branch
	})
}

// SetContainerInfo records the sandbox container id.
func (m *Manager) SetContainerInfo(_ context.Context, id, containerID string) error {
	return m.update(id, func(t *core.Task) {
		t.ContainerID = containerID
	})
}

// SetAgentImage records the sandbox image used for the task.
func (m *Manager) SetAgentImage(_ context.Context, id, image string) error {
	return m.update(id, func(t *core.Task) {
		t.AgentImage = image
	})
}

// ResetToNew returns the task to NEW after a failed launch so a later
// tick can retry it.
func (m *Manager) ResetToNew(_ context.Context, id string) error {
	return m.update(id, func(t *core.Task) {
		t.Status = core.TaskNew
		t.ContainerID = ""
	})
}

// MarkPushed transitions the task to PUSHED after its branch reached
// the remote.
func (m *Manager) MarkPushed(_ context.Context, id string) error {
	return m.update(id, func(t *core.Task) {
		t.Status = core.TaskPushed
	})
}

// UpdateStatusFromIteration re-reads the sandbox-written result file
// of the latest iteration and updates the task status. It fails
// transiently while the result file has not been written yet.
func (m *Manager) UpdateStatusFromIteration(_ context.Context, id string) (*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.read(id)
	if err != nil {
		return nil, err
	}

	resultPath := filepath.Join(m.iterationDir(id, task.Iteration), resultFile)
	data, err := os.ReadFile(resultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrTransient(core.CodeResultPending,
				fmt.Sprintf("iteration %d result not written yet", task.Iteration))
		}
		return nil, core.ErrTransient(core.CodeIo, "reading iteration result").WithCause(err)
	}

	var result iterationResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Mid-write reads see a truncated file; the next tick retries.
		return nil, core.ErrTransient(core.CodeResultPending, "iteration result is incomplete").WithCause(err)
	}

	switch result.Status {
	case "completed":
		task.Status = core.TaskCompleted
		task.Error = ""
	case "failed":
		task.Status = core.TaskFailed
		task.Error = result.Error
	default:
		return nil, core.ErrTransient(core.CodeResultPending,
			fmt.Sprintf("iteration result has unknown status %q", result.Status))
	}

	task.UpdatedAt = time.Now().UTC()
	if err := m.write(task); err != nil {
		return nil, err
	}
	return task, nil
}

// IterationSummaries returns the per-iteration summaries recorded so
// far, oldest first. Iterations without a result yet are skipped.
func (m *Manager) IterationSummaries(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.read(id)
	if err != nil {
		return nil, err
	}

	var summaries []string
	for n := 1; n <= task.Iteration; n++ {
		data, err := os.ReadFile(filepath.Join(m.iterationDir(id, n), resultFile))
		if err != nil {
			continue
		}
		var result iterationResult
		if err := json.Unmarshal(data, &result); err != nil {
			continue
		}
		summary := result.Summary
		if summary == "" && result.Error != "" {
			summary = "failed: " + result.Error
		}
		if summary != "" {
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

func (m *Manager) read(id string) (*core.Task, error) {
	data, err := os.ReadFile(m.taskPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrTrace(core.CodeTaskNotFound, "task not found: "+id)
		}
		return nil, core.ErrTransient(core.CodeIo, "reading task record").WithCause(err)
	}
	var task core.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, core.ErrTransient(core.CodeParseFailed, "parsing task record").WithCause(err)
	}
	return &task, nil
}

func (m *Manager) write(task *core.Task) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return core.ErrTransient(core.CodeIo, "encoding task record").WithCause(err)
	}
	if err := fsutil.AtomicWriteFile(m.taskPath(task.ID), data, 0o644); err != nil {
		return core.ErrTransient(core.CodeIo, "writing task record").WithCause(err)
	}
	return nil
}

func (m *Manager) update(id string, fn func(*core.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.read(id)
	if err != nil {
		return err
	}
	fn(task)
	task.UpdatedAt = time.Now().UTC()
	return m.write(task)
}

// TaskDescription aliases the core creation payload for callers that
// import only this package.
type TaskDescription = core.TaskDescription
