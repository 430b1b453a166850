// Package sandbox implements the SandboxFactory port over the docker
// CLI. Each task iteration runs in a detached container with the task
// worktree bind-mounted at /workspace.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// DockerFactory creates docker-backed sandboxes.
type DockerFactory struct {
	timeout time.Duration
	logger  *logging.Logger
}

// NewDockerFactory creates a sandbox factory using the docker CLI.
func NewDockerFactory(logger *logging.Logger) *DockerFactory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DockerFactory{
		timeout: 2 * time.Minute,
		logger:  logger,
	}
}

// CreateSandbox prepares a sandbox for one task iteration.
func (f *DockerFactory) CreateSandbox(_ context.Context, task *core.Task, opts core.SandboxOptions) (core.Sandbox, error) {
	if opts.Image == "" {
		return nil, core.ErrSystem(core.CodeSandboxFailed, "sandbox image not configured")
	}
	if opts.Workspace == "" {
		return nil, core.ErrTrace(core.CodeSandboxFailed, "task has no workspace")
	}
	return &dockerSandbox{
		factory: f,
		task:    task,
		opts:    opts,
	}, nil
}

type dockerSandbox struct {
	factory *DockerFactory
	task    *core.Task
	opts    core.SandboxOptions
}

// CreateAndStart creates and starts the container, returning its id.
func (s *dockerSandbox) CreateAndStart(ctx context.Context) (string, error) {
	args := []string{"run", "-d",
		"--name", containerName(s.task),
		"--label", "rover.task=" + s.task.ID,
		"-v", s.opts.Workspace + ":/workspace",
		"-w", "/workspace",
		"-e", "ROVER_TASK_ID=" + s.task.ID,
		"-e", fmt.Sprintf("ROVER_ITERATION=%d", s.task.Iteration),
	}
	for _, k := range sortedKeys(s.opts.Env) {
		args = append(args, "-e", k+"="+s.opts.Env[k])
	}
	args = append(args, s.opts.Image)

	output, err := s.factory.run(ctx, args...)
	if err != nil {
		return "", err
	}

	containerID := firstLine(output)
	s.factory.logger.Debug("sandbox: container started",
		"task_id", s.task.ID, "container_id", containerID, "image", s.opts.Image)
	return containerID, nil
}

func (f *DockerFactory) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTransient(core.CodeSandboxFailed, "docker command timed out")
		}
		return "", core.ErrTransient(core.CodeSandboxFailed,
			fmt.Sprintf("docker %s: %s", args[0], strings.TrimSpace(stderr.String()))).WithCause(err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func containerName(task *core.Task) string {
	return fmt.Sprintf("rover-task-%s-%d", shortID(task.ID), task.Iteration)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
