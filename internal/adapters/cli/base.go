// Package cli implements the Agent port over AI coding agent CLIs
// (claude, gemini). Adapters execute the CLI as a subprocess with a
// per-invocation timeout and extract JSON from mixed output when a
// structured answer is expected.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// AgentConfig holds adapter configuration.
type AgentConfig struct {
	Name      string
	Path      string
	Model     string
	FastModel string
	Timeout   time.Duration
}

// CommandResult holds the output of a CLI invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// BaseAdapter provides common CLI execution functionality.
type BaseAdapter struct {
	config AgentConfig
	logger *logging.Logger
}

// NewBaseAdapter creates a base adapter.
func NewBaseAdapter(cfg AgentConfig, logger *logging.Logger) *BaseAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BaseAdapter{config: cfg, logger: logger}
}

// Config returns the adapter configuration.
func (b *BaseAdapter) Config() AgentConfig {
	return b.config
}

// ExecuteCommand runs the configured CLI with args, feeding stdin when
// non-empty. The timeout precedence is explicit > config > 10 minutes.
func (b *BaseAdapter) ExecuteCommand(ctx context.Context, args []string, stdin, workDir string, optTimeout time.Duration) (*CommandResult, error) {
	timeout := optTimeout
	if timeout == 0 {
		timeout = b.config.Timeout
	}
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdPath := b.config.Path
	if cmdPath == "" {
		return nil, core.ErrTrace(core.CodeAgentFailed, "adapter path not configured")
	}

	// Handle multi-word commands (e.g., "gh copilot").
	cmdParts := strings.Fields(cmdPath)
	if len(cmdParts) > 1 {
		cmdPath = cmdParts[0]
		args = append(cmdParts[1:], args...)
	}

	// #nosec G204 -- command path and args come from validated config
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Env = append(os.Environ(), "ROVER_MANAGED=true", "ROVER_AGENT="+b.config.Name)

	b.logger.Debug("cli: executing command",
		"adapter", b.config.Name,
		"path", cmdPath,
		"work_dir", cmd.Dir,
		"stdin_length", len(stdin),
		"timeout", timeout,
	)

	start := time.Now()
	err := cmd.Run()
	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, core.ErrTransient(core.CodeAgentFailed,
				fmt.Sprintf("%s timed out after %s", b.config.Name, timeout))
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, core.ErrTransient(core.CodeAgentFailed,
			fmt.Sprintf("%s failed: %s", b.config.Name, firstLine(result.Stderr))).WithCause(err)
	}
	return result, nil
}

// CheckAvailability verifies the CLI is installed and accessible.
func (b *BaseAdapter) CheckAvailability(_ context.Context) error {
	cmdPath := b.config.Path
	if cmdPath == "" {
		return core.ErrTrace(core.CodeAgentFailed, "adapter path not configured")
	}
	cmdParts := strings.Fields(cmdPath)
	if _, err := exec.LookPath(cmdParts[0]); err != nil {
		return core.ErrTrace(core.CodeAgentFailed,
			fmt.Sprintf("CLI not found: %s", cmdParts[0])).WithCause(err)
	}
	return nil
}

// ExtractJSON finds and extracts the first JSON object or array from
// mixed text output.
func ExtractJSON(output string) string {
	start := strings.Index(output, "{")
	if arr := strings.Index(output, "["); start == -1 || (arr != -1 && arr < start) {
		start = arr
	}
	if start == -1 {
		return ""
	}

	openChar := output[start]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(output); i++ {
		c := output[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return output[start : i+1]
			}
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
