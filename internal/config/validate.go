package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateLLM(&cfg.LLM)...)
	errs = append(errs, validateNotifications(&cfg.Notifications)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "is required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.poll_interval",
			Message: "must be positive",
		})
	}

	if cfg.MaxParallelRuns < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.max_parallel_runs",
			Message: "must be at least 1",
		})
	}

	if cfg.TimeoutForRunningScheduleSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.timeout_for_running_schedule_secs",
			Message: "must be at least 1",
		})
	}

	if cfg.DefaultKeepHistory < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.default_keep_history",
			Message: "must be at least 1",
		})
	}

	if cfg.DefaultMaxSteps < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.default_max_steps",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateLLM(cfg *LLMConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.DefaultModel == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.default_model",
			Message: "is required",
		})
	}

	if cfg.MaxToolRounds < 1 {
		errs = append(errs, ValidationError{
			Field:   "llm.max_tool_rounds",
			Message: "must be at least 1",
		})
	}

	if cfg.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "llm.requests_per_second",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateNotifications(cfg *NotificationsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "notifications.max_attempts",
			Message: "must be at least 1",
		})
	}

	if cfg.BaseDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "notifications.base_delay",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Enabled && cfg.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.address",
			Message: "is required when metrics are enabled",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, console",
		})
	}

	return errs
}
