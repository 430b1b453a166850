package github

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CommandRunner is the seam between the client and the gh binary.
// Tests substitute a scripted runner; production uses ExecRunner.
type CommandRunner interface {
	// Run executes the command and returns its stdout with surrounding
	// whitespace trimmed.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands through os/exec, honoring the context for
// cancellation and timeouts.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner { return &ExecRunner{} }

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}
	if stderr.Len() == 0 {
		return "", err
	}
	return "", &RunError{
		Command: strings.Join(append([]string{name}, args...), " "),
		Stderr:  strings.TrimSpace(stderr.String()),
		Err:     err,
	}
}

// RunError carries the command line and its stderr so gh failures
// surface with enough context to act on.
type RunError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *RunError) Error() string {
	if e.Stderr == "" {
		return e.Command + ": " + e.Err.Error()
	}
	return e.Command + ": " + e.Stderr + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }
