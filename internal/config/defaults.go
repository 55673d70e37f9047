package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "dbsentry.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultPollInterval                  = time.Minute
	DefaultMaxParallelRuns               = 20
	DefaultTimeoutForRunningScheduleSecs = 900
	DefaultKeepHistory                   = 300
	DefaultMaxSteps                      = 5

	// LLM defaults.
	DefaultModel          = "gpt-4o"
	DefaultMaxToolRounds  = 20
	DefaultRequestTimeout = 2 * time.Minute

	// Target database defaults.
	DefaultTargetMaxOpenConns     = 2
	DefaultTargetConnectTimeout   = 10 * time.Second
	DefaultTargetStatementTimeout = 30 * time.Second

	// Notification defaults.
	DefaultNotifyMaxAttempts = 3
	DefaultNotifyBaseDelay   = time.Second
	DefaultNotifyTimeout     = 10 * time.Second

	// Metrics defaults.
	DefaultMetricsAddress = ":9464"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Scheduler: SchedulerConfig{
			PollInterval:                  DefaultPollInterval,
			MaxParallelRuns:               DefaultMaxParallelRuns,
			TimeoutForRunningScheduleSecs: DefaultTimeoutForRunningScheduleSecs,
			DefaultKeepHistory:            DefaultKeepHistory,
			DefaultMaxSteps:               DefaultMaxSteps,
		},
		LLM: LLMConfig{
			APIKey:         "${OPENAI_API_KEY}",
			DefaultModel:   DefaultModel,
			MaxToolRounds:  DefaultMaxToolRounds,
			RequestTimeout: DefaultRequestTimeout,
		},
		Targets: TargetsConfig{
			MaxOpenConns:     DefaultTargetMaxOpenConns,
			ConnectTimeout:   DefaultTargetConnectTimeout,
			StatementTimeout: DefaultTargetStatementTimeout,
		},
		Notifications: NotificationsConfig{
			MaxAttempts: DefaultNotifyMaxAttempts,
			BaseDelay:   DefaultNotifyBaseDelay,
			Timeout:     DefaultNotifyTimeout,
		},
		Playbooks: PlaybooksConfig{
			Watch: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: DefaultMetricsAddress,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
