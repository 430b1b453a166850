package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "ROVER",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "ROVER",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (ROVER_*)
// 3. Project config (rover.yaml in current directory)
// 4. User config (~/.config/rover/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", l.configFile, err)
		}
	} else {
		l.v.SetConfigName("rover")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "rover"))
		}
		if err := l.v.ReadInConfig(); err != nil {
			// Missing config is fine; defaults apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("data_dir", defaultDataDir())

	l.v.SetDefault("autopilot.poll_interval", time.Minute)
	l.v.SetDefault("autopilot.tick_interval", 30*time.Second)
	l.v.SetDefault("autopilot.stagger_step", 5*time.Second)
	l.v.SetDefault("autopilot.fetch_limit", 30)
	l.v.SetDefault("autopilot.max_parallel", 3)
	l.v.SetDefault("autopilot.max_running_tasks", 3)
	l.v.SetDefault("autopilot.max_retries", 3)
	l.v.SetDefault("autopilot.agent_timeout", 5*time.Minute)

	l.v.SetDefault("agents.default", "claude")
	l.v.SetDefault("agents.fast", "claude")
	l.v.SetDefault("agents.claude.enabled", true)
	l.v.SetDefault("agents.claude.path", "claude")
	l.v.SetDefault("agents.gemini.enabled", false)
	l.v.SetDefault("agents.gemini.path", "gemini")

	l.v.SetDefault("git.remote", "origin")
	l.v.SetDefault("git.branch_prefix", "rover")
	l.v.SetDefault("git.attribution_trailer", false)

	l.v.SetDefault("sandbox.image", "rover-agent:latest")

	l.v.SetDefault("state.backend", "json")

	l.v.SetDefault("server.enabled", false)
	l.v.SetDefault("server.addr", "127.0.0.1:7713")
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "rover")
	}
	return ".rover"
}
