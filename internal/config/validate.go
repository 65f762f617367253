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
	errs = append(errs, validateEngine(&cfg.Engine)...)
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
			Message: "must not be empty",
		})
	}
	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
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
	if cfg.CatchupLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.catchup_limit",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateEngine(cfg *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_retries",
			Message: "must not be negative",
		})
	}
	if cfg.MaxConcurrency < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_concurrency",
			Message: "must be at least 1",
		})
	}
	if cfg.MaxCheckpoints < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.max_checkpoints",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", cfg.Level),
		})
	}

	switch cfg.Format {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", cfg.Format),
		})
	}

	return errs
}
