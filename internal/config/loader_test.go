package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	// An explicit empty config file keeps the loader away from any
	// rover.yaml in the working directory.
	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.Minute, cfg.Autopilot.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Autopilot.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.Autopilot.StaggerStep)
	assert.Equal(t, 30, cfg.Autopilot.FetchLimit)
	assert.Equal(t, 3, cfg.Autopilot.MaxParallel)
	assert.Equal(t, 3, cfg.Autopilot.MaxRunningTasks)
	assert.Equal(t, 3, cfg.Autopilot.MaxRetries)
	assert.Equal(t, "claude", cfg.Agents.Default)
	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.Equal(t, "rover", cfg.Git.BranchPrefix)
	assert.Equal(t, "json", cfg.State.Backend)
	assert.Equal(t, "127.0.0.1:7713", cfg.Server.Addr)
	assert.False(t, cfg.Server.Enabled)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
autopilot:
  poll_interval: 2m
  max_running_tasks: 5
github:
  owner: acme
  repo: widgets
state:
  backend: sqlite
`), 0o644))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Minute, cfg.Autopilot.PollInterval)
	assert.Equal(t, 5, cfg.Autopilot.MaxRunningTasks)
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, "widgets", cfg.GitHub.Repo)
	assert.Equal(t, "sqlite", cfg.State.Backend)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Autopilot.TickInterval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))

	t.Setenv("ROVER_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte("autopilot:\n  max_running_tasks: 0\n"), 0o644))

	_, err := NewLoader().WithConfigFile(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_running_tasks")
}

// The shipped default config must parse as YAML, load cleanly, and
// agree with the loader's programmatic defaults.
func TestDefaultConfigYAML(t *testing.T) {
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigYAML), &doc))
	for _, section := range []string{"log", "autopilot", "agents", "git", "sandbox", "state", "server"} {
		assert.Contains(t, doc, section)
	}

	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultConfigYAML), 0o644))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.Minute, cfg.Autopilot.PollInterval)
	assert.Equal(t, 3, cfg.Autopilot.MaxRunningTasks)
	assert.Equal(t, "claude", cfg.Agents.Fast)
	assert.True(t, cfg.Agents.Claude.Enabled)
	assert.False(t, cfg.Agents.Gemini.Enabled)
	assert.Equal(t, "rover-agent:latest", cfg.Sandbox.Image)
	assert.Equal(t, "json", cfg.State.Backend)
}
