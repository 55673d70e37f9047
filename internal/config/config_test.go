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

	if cfg.Scheduler.MaxParallelRuns != 20 {
		t.Errorf("expected max parallel runs 20, got %d", cfg.Scheduler.MaxParallelRuns)
	}

	if cfg.Scheduler.TimeoutForRunningScheduleSecs != 900 {
		t.Errorf("expected running timeout 900, got %d", cfg.Scheduler.TimeoutForRunningScheduleSecs)
	}

	if cfg.Scheduler.RecoveryTimeout() != 15*time.Minute {
		t.Errorf("expected recovery timeout 15m, got %v", cfg.Scheduler.RecoveryTimeout())
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_InvalidScheduler(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero parallel runs", func(c *Config) { c.Scheduler.MaxParallelRuns = 0 }, "scheduler.max_parallel_runs"},
		{"zero running timeout", func(c *Config) { c.Scheduler.TimeoutForRunningScheduleSecs = 0 }, "scheduler.timeout_for_running_schedule_secs"},
		{"zero poll interval", func(c *Config) { c.Scheduler.PollInterval = 0 }, "scheduler.poll_interval"},
		{"zero keep history", func(c *Config) { c.Scheduler.DefaultKeepHistory = 0 }, "scheduler.default_keep_history"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no model", func(c *Config) { c.LLM.DefaultModel = "" }, "llm.default_model"},
		{"zero attempts", func(c *Config) { c.Notifications.MaxAttempts = 0 }, "notifications.max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var errs ValidationErrors
			if !errors.As(err, &errs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}

			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected error for %s field, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for invalid log format")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "dbsentry.yaml")

	content := `
database:
  path: "test.db"
scheduler:
  max_parallel_runs: 5
  timeout_for_running_schedule_secs: 60
  poll_interval: 30s
notifications:
  slack_webhook_url: "https://hooks.slack.com/services/T/B/X"
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected db path test.db, got %s", cfg.Database.Path)
	}
	if cfg.Scheduler.MaxParallelRuns != 5 {
		t.Errorf("expected max parallel runs 5, got %d", cfg.Scheduler.MaxParallelRuns)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.RecoveryTimeout() != time.Minute {
		t.Errorf("expected recovery timeout 1m, got %v", cfg.Scheduler.RecoveryTimeout())
	}
	if cfg.Notifications.SlackWebhookURL == "" {
		t.Error("expected slack webhook to be loaded")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.LLM.MaxToolRounds != DefaultMaxToolRounds {
		t.Errorf("expected default max tool rounds, got %d", cfg.LLM.MaxToolRounds)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "dbsentry.yaml")

	content := `
scheduler:
  max_parallel_runs: 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("DBSENTRY_SCHEDULER_MAX_PARALLEL_RUNS", "7")
	t.Setenv("DBSENTRY_DATABASE_PATH", "env-test.db")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadWithDefaults()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Scheduler.MaxParallelRuns != 7 {
		t.Errorf("expected max parallel runs 7 from env, got %d", cfg.Scheduler.MaxParallelRuns)
	}

	if cfg.Database.Path != "env-test.db" {
		t.Errorf("expected db path env-test.db from env, got %s", cfg.Database.Path)
	}

	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("expected api key expanded from env, got %q", cfg.LLM.APIKey)
	}
}
