package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "DBSENTRY"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("dbsentry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/dbsentry")
		v.AddConfigPath("/etc/dbsentry")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	v.SetDefault("scheduler.max_parallel_runs", cfg.Scheduler.MaxParallelRuns)
	v.SetDefault("scheduler.timeout_for_running_schedule_secs", cfg.Scheduler.TimeoutForRunningScheduleSecs)
	v.SetDefault("scheduler.default_keep_history", cfg.Scheduler.DefaultKeepHistory)
	v.SetDefault("scheduler.default_max_steps", cfg.Scheduler.DefaultMaxSteps)

	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.api_key", cfg.LLM.APIKey)
	v.SetDefault("llm.default_model", cfg.LLM.DefaultModel)
	v.SetDefault("llm.max_tool_rounds", cfg.LLM.MaxToolRounds)
	v.SetDefault("llm.requests_per_second", cfg.LLM.RequestsPerSecond)
	v.SetDefault("llm.request_timeout", cfg.LLM.RequestTimeout)

	v.SetDefault("targets.max_open_conns", cfg.Targets.MaxOpenConns)
	v.SetDefault("targets.connect_timeout", cfg.Targets.ConnectTimeout)
	v.SetDefault("targets.statement_timeout", cfg.Targets.StatementTimeout)

	v.SetDefault("notifications.slack_webhook_url", cfg.Notifications.SlackWebhookURL)
	v.SetDefault("notifications.discord_webhook_url", cfg.Notifications.DiscordWebhookURL)
	v.SetDefault("notifications.max_attempts", cfg.Notifications.MaxAttempts)
	v.SetDefault("notifications.base_delay", cfg.Notifications.BaseDelay)
	v.SetDefault("notifications.timeout", cfg.Notifications.Timeout)

	v.SetDefault("playbooks.dir", cfg.Playbooks.Dir)
	v.SetDefault("playbooks.watch", cfg.Playbooks.Watch)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// expandEnvInConfig replaces "${VAR}" values with the environment value.
// Unset variables expand to the empty string.
func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			v.Set(key, os.Getenv(envVar))
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"dbsentry.yaml",
		"dbsentry.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "dbsentry", "dbsentry.yaml"),
		"/etc/dbsentry/dbsentry.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
