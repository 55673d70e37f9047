package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/database"
)

var (
	cfgFile string
	verbose bool
	asUser  string

	// cfg is loaded once per invocation before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dbsentry",
	Short: "Autonomous PostgreSQL monitoring driven by diagnostic playbooks",
	Long: `dbsentry runs diagnostic playbooks against PostgreSQL databases on a schedule.

Each run is carried out by a language model agent with read-only inspection
tools. The outcome is classified as info, warning or alert, stored in a bounded
run history and sent to Slack or Discord when it crosses the schedule's
notification threshold.

Start the scheduler:
  dbsentry run

Register a database and schedule a daily check:
  dbsentry project add prod --slack-webhook https://hooks.slack.com/...
  dbsentry connection add <project-id> primary postgres://monitor@db/app
  dbsentry schedule create --connection <connection-id> --cron "0 0 * * *"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.Logging)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dbsentry.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&asUser, "as-user", "", "act as this user instead of with admin access")
}

// setupLogging configures zerolog from config; --verbose forces debug.
func setupLogging(lc config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// access returns the data-access handle for this invocation.
func access() database.Access {
	if asUser != "" {
		return database.AsUser(asUser)
	}
	return database.Admin()
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("dbsentry version %s", "0.1.0-dev")
}
