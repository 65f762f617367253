package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("expected db path %s, got %s", DefaultDBPath, cfg.Database.Path)
	}

	if cfg.Scheduler.PollInterval != DefaultPollInterval {
		t.Errorf("expected poll interval %v, got %v", DefaultPollInterval, cfg.Scheduler.PollInterval)
	}

	if cfg.Engine.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected max retries %d, got %d", DefaultMaxRetries, cfg.Engine.MaxRetries)
	}

	if cfg.Scheduler.Catchup {
		t.Error("expected catchup to be disabled by default")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_InvalidPollInterval(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.PollInterval = 0

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation error for zero poll interval")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	found := false
	for _, e := range errs {
		if e.Field == "scheduler.poll_interval" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected error for scheduler.poll_interval field")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")

	content := []byte(`
database:
  path: /tmp/custom.db
scheduler:
  poll_interval: 5s
engine:
  max_retries: 4
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/custom.db" {
		t.Errorf("expected custom db path, got %s", cfg.Database.Path)
	}
	if cfg.Scheduler.PollInterval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Engine.MaxRetries != 4 {
		t.Errorf("expected max retries 4, got %d", cfg.Engine.MaxRetries)
	}

	// Values not in the file keep their defaults.
	if cfg.Engine.MaxCheckpoints != DefaultMaxCheckpoints {
		t.Errorf("expected default max checkpoints, got %d", cfg.Engine.MaxCheckpoints)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	content := []byte(`
scheduler:
  poll_interval: 0s
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	_, err := LoadFromFile(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
