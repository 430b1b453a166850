package cli

import (
	"fmt"
	"time"

	"github.com/endorhq/rover/internal/config"
	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// Registry holds the configured agent adapters and resolves which one
// serves full-strength and fast invocations.
type Registry struct {
	adapters    map[string]core.Agent
	fastModels  map[string]string
	defaultName string
	fastName    string
}

// NewRegistry builds adapters for every enabled agent in cfg.
func NewRegistry(cfg config.AgentsConfig, timeout time.Duration, logger *logging.Logger) (*Registry, error) {
	r := &Registry{
		adapters:    make(map[string]core.Agent),
		fastModels:  make(map[string]string),
		defaultName: cfg.Default,
		fastName:    cfg.Fast,
	}
	if r.defaultName == "" {
		r.defaultName = "claude"
	}
	if r.fastName == "" {
		r.fastName = r.defaultName
	}

	if cfg.Claude.Enabled {
		r.adapters["claude"] = NewClaudeAdapter(AgentConfig{
			Path:      cfg.Claude.Path,
			Model:     cfg.Claude.Model,
			FastModel: cfg.Claude.FastModel,
			Timeout:   timeout,
		}, logger)
		r.fastModels["claude"] = cfg.Claude.FastModel
	}
	if cfg.Gemini.Enabled {
		r.adapters["gemini"] = NewGeminiAdapter(AgentConfig{
			Path:      cfg.Gemini.Path,
			Model:     cfg.Gemini.Model,
			FastModel: cfg.Gemini.FastModel,
			Timeout:   timeout,
		}, logger)
		r.fastModels["gemini"] = cfg.Gemini.FastModel
	}

	if len(r.adapters) == 0 {
		return nil, fmt.Errorf("no agents enabled")
	}
	if _, ok := r.adapters[r.defaultName]; !ok {
		return nil, fmt.Errorf("default agent %q is not enabled", r.defaultName)
	}
	if _, ok := r.adapters[r.fastName]; !ok {
		return nil, fmt.Errorf("fast agent %q is not enabled", r.fastName)
	}
	return r, nil
}

// Default returns the full-strength agent used for planning and
// workflow decisions.
func (r *Registry) Default() core.Agent {
	return r.adapters[r.defaultName]
}

// Fast returns the agent used for small, quick decisions (coordinator,
// resolver, notify). FastModel returns the model override to pass with
// it; empty means the adapter default.
func (r *Registry) Fast() core.Agent {
	return r.adapters[r.fastName]
}

// FastModel returns the model override for the fast agent.
func (r *Registry) FastModel() string {
	return r.fastModels[r.fastName]
}

// Get looks up an adapter by name.
func (r *Registry) Get(name string) (core.Agent, bool) {
	a, ok := r.adapters[name]
	return a, ok
}
