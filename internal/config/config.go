// Package config holds the typed rover configuration, loaded via
// viper from rover.yaml with ROVER_* environment overrides.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	DataDir   string          `mapstructure:"data_dir"`
	Project   ProjectConfig   `mapstructure:"project"`
	Autopilot AutopilotConfig `mapstructure:"autopilot"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Git       GitConfig       `mapstructure:"git"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	State     StateConfig     `mapstructure:"state"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProjectConfig identifies the single project this autopilot drives.
type ProjectConfig struct {
	ID   string `mapstructure:"id"`
	Path string `mapstructure:"path"` // repository checkout
}

// AutopilotConfig configures scheduling cadence and caps.
type AutopilotConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	StaggerStep     time.Duration `mapstructure:"stagger_step"`
	FetchLimit      int           `mapstructure:"fetch_limit"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	MaxRunningTasks int           `mapstructure:"max_running_tasks"`
	MaxRetries      int           `mapstructure:"max_retries"`
	AgentTimeout    time.Duration `mapstructure:"agent_timeout"`
}

// AgentsConfig configures available AI agents.
type AgentsConfig struct {
	Default string      `mapstructure:"default"`
	Fast    string      `mapstructure:"fast"` // adapter for small/fast decisions
	Claude  AgentConfig `mapstructure:"claude"`
	Gemini  AgentConfig `mapstructure:"gemini"`
}

// AgentConfig configures a single AI agent adapter.
type AgentConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Model     string `mapstructure:"model"`
	FastModel string `mapstructure:"fast_model"`
}

// GitConfig configures git behavior.
type GitConfig struct {
	Remote             string   `mapstructure:"remote"`
	BranchPrefix       string   `mapstructure:"branch_prefix"`
	AttributionTrailer bool     `mapstructure:"attribution_trailer"`
	TrailerText        string   `mapstructure:"trailer_text"`
	EnvFiles           []string `mapstructure:"env_files"`
	SparseExcludes     []string `mapstructure:"sparse_excludes"`
}

// GitHubConfig configures the hosting adapter and event source.
type GitHubConfig struct {
	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`
}

// SandboxConfig configures the container sandbox.
type SandboxConfig struct {
	Image string            `mapstructure:"image"`
	Env   map[string]string `mapstructure:"env"`
}

// StateConfig selects the trace-snapshot backend.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // json (default) or sqlite
}

// ServerConfig configures the observability HTTP API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}
