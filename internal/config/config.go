// Package config provides configuration management for dbsentry.
package config

import (
	"time"
)

// Config is the root configuration structure for dbsentry.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Targets       TargetsConfig       `mapstructure:"targets"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Playbooks     PlaybooksConfig     `mapstructure:"playbooks"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// DatabaseConfig holds settings for the control-plane SQLite database.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig holds settings for the monitoring poll loop.
type SchedulerConfig struct {
	// How often the poll loop looks for due schedules
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Upper bound on playbook runs in flight across the process
	MaxParallelRuns int `mapstructure:"max_parallel_runs"`

	// Seconds after next_run before a schedule stuck in "running" is re-admitted
	TimeoutForRunningScheduleSecs int `mapstructure:"timeout_for_running_schedule_secs"`

	// Applied when a schedule is created without an explicit history size
	DefaultKeepHistory int `mapstructure:"default_keep_history"`

	// Applied when a schedule is created without an explicit step budget
	DefaultMaxSteps int `mapstructure:"default_max_steps"`
}

// RecoveryTimeout returns TimeoutForRunningScheduleSecs as a duration.
func (s *SchedulerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(s.TimeoutForRunningScheduleSecs) * time.Second
}

// LLMConfig holds settings for the OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	// Base URL (empty for api.openai.com)
	BaseURL string `mapstructure:"base_url"`

	// API key, usually "${OPENAI_API_KEY}"
	APIKey string `mapstructure:"api_key"`

	// Model used when a schedule does not name one
	DefaultModel string `mapstructure:"default_model"`

	// Maximum tool-call round trips per agent invocation
	MaxToolRounds int `mapstructure:"max_tool_rounds"`

	// Requests per second across all runs (0 = unlimited)
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Per-request timeout
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TargetsConfig holds settings for connections to monitored PostgreSQL databases.
type TargetsConfig struct {
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// NotificationsConfig holds alert delivery settings.
type NotificationsConfig struct {
	// Used when a project has no Slack webhook of its own
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`

	// Used when a project has no Discord webhook of its own
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`

	// Delivery attempts per channel
	MaxAttempts int `mapstructure:"max_attempts"`

	// First retry delay; doubles per attempt
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// HTTP timeout per attempt
	Timeout time.Duration `mapstructure:"timeout"`
}

// PlaybooksConfig holds settings for user-defined playbooks.
type PlaybooksConfig struct {
	// Directory of *.yaml playbook files (optional)
	Dir string `mapstructure:"dir"`

	// Reload playbooks when files in Dir change
	Watch bool `mapstructure:"watch"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`
}
