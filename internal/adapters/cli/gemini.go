package cli

import (
	"context"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// GeminiAdapter implements Agent for the Gemini CLI.
type GeminiAdapter struct {
	*BaseAdapter
}

// NewGeminiAdapter creates a new Gemini adapter.
func NewGeminiAdapter(cfg AgentConfig, logger *logging.Logger) core.Agent {
	if cfg.Path == "" {
		cfg.Path = "gemini"
	}
	cfg.Name = "gemini"
	return &GeminiAdapter{BaseAdapter: NewBaseAdapter(cfg, logger.With("adapter", "gemini"))}
}

// Name returns the adapter name.
func (g *GeminiAdapter) Name() string {
	return "gemini"
}

// Ping checks if the Gemini CLI is available.
func (g *GeminiAdapter) Ping(ctx context.Context) error {
	if err := g.CheckAvailability(ctx); err != nil {
		return err
	}
	_, err := g.ExecuteCommand(ctx, []string{"--version"}, "", "", 0)
	return err
}

// Invoke runs a prompt through the Gemini CLI. Gemini takes the
// prompt as a positional argument rather than stdin.
func (g *GeminiAdapter) Invoke(ctx context.Context, prompt string, opts core.InvokeOptions) (string, error) {
	var args []string

	model := opts.Model
	if model == "" {
		model = g.Config().Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--prompt", prompt)

	result, err := g.ExecuteCommand(ctx, args, "", opts.WorkDir, opts.Timeout)
	if err != nil {
		return "", err
	}

	if opts.JSON {
		extracted := ExtractJSON(result.Stdout)
		if extracted == "" {
			return "", core.ErrTransient(core.CodeParseFailed, "no JSON found in gemini output")
		}
		return extracted, nil
	}
	return result.Stdout, nil
}
