package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for values the autopilot cannot
// run with.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if cfg.Autopilot.MaxRunningTasks < 1 {
		errs = append(errs, ValidationError{
			Field: "autopilot.max_running_tasks", Value: cfg.Autopilot.MaxRunningTasks,
			Message: "must be at least 1",
		})
	}
	if cfg.Autopilot.MaxParallel < 1 {
		errs = append(errs, ValidationError{
			Field: "autopilot.max_parallel", Value: cfg.Autopilot.MaxParallel,
			Message: "must be at least 1",
		})
	}
	if cfg.Autopilot.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field: "autopilot.max_retries", Value: cfg.Autopilot.MaxRetries,
			Message: "must not be negative",
		})
	}
	if cfg.Autopilot.TickInterval <= 0 {
		errs = append(errs, ValidationError{
			Field: "autopilot.tick_interval", Value: cfg.Autopilot.TickInterval,
			Message: "must be positive",
		})
	}
	if cfg.Autopilot.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field: "autopilot.poll_interval", Value: cfg.Autopilot.PollInterval,
			Message: "must be positive",
		})
	}

	switch cfg.State.Backend {
	case "", "json", "sqlite":
	default:
		errs = append(errs, ValidationError{
			Field: "state.backend", Value: cfg.State.Backend,
			Message: "must be json or sqlite",
		})
	}

	switch cfg.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field: "log.format", Value: cfg.Log.Format,
			Message: "must be auto, text or json",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
