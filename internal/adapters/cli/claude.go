package cli

import (
	"context"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// ClaudeAdapter implements Agent for the Claude CLI.
type ClaudeAdapter struct {
	*BaseAdapter
}

// NewClaudeAdapter creates a new Claude adapter.
func NewClaudeAdapter(cfg AgentConfig, logger *logging.Logger) core.Agent {
	if cfg.Path == "" {
		cfg.Path = "claude"
	}
	cfg.Name = "claude"
	return &ClaudeAdapter{BaseAdapter: NewBaseAdapter(cfg, logger.With("adapter", "claude"))}
}

// Name returns the adapter name.
func (c *ClaudeAdapter) Name() string {
	return "claude"
}

// Ping checks if the Claude CLI is available.
func (c *ClaudeAdapter) Ping(ctx context.Context) error {
	if err := c.CheckAvailability(ctx); err != nil {
		return err
	}
	_, err := c.ExecuteCommand(ctx, []string{"--version"}, "", "", 0)
	return err
}

// Invoke runs a prompt through the Claude CLI.
func (c *ClaudeAdapter) Invoke(ctx context.Context, prompt string, opts core.InvokeOptions) (string, error) {
	args := []string{"--print"}

	model := opts.Model
	if model == "" {
		model = c.Config().Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}

	result, err := c.ExecuteCommand(ctx, args, prompt, opts.WorkDir, opts.Timeout)
	if err != nil {
		return "", err
	}

	if opts.JSON {
		extracted := ExtractJSON(result.Stdout)
		if extracted == "" {
			return "", core.ErrTransient(core.CodeParseFailed, "no JSON found in claude output")
		}
		return extracted, nil
	}
	return result.Stdout, nil
}
