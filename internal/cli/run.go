package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/dbsentry/internal/playbooks"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler",
	Long: `Start the scheduler and run due playbooks until interrupted.

The scheduler polls for due schedules every scheduler.poll_interval and runs at
most scheduler.max_parallel_runs playbooks at once. When metrics are enabled,
/metrics and /healthz are served on metrics.address.`,
	RunE: runDaemon,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduling pass and exit",
	Long: `Check for due schedules once, run them and wait for every run to finish.

Use this to drive dbsentry from an external cron instead of 'dbsentry run'.`,
	RunE: runTick,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tickCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Playbooks.Dir != "" && cfg.Playbooks.Watch {
		w, err := playbooks.NewWatcher(a.playbooks, cfg.Playbooks.Dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.Playbooks.Dir).Msg("Playbook watcher disabled")
		} else {
			w.Start(ctx)
			defer w.Stop()
		}
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           newMetricsMux(a.db),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", srv.Addr).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
	}

	sched := a.newScheduler()
	sched.Start(ctx)

	log.Info().
		Dur("poll_interval", cfg.Scheduler.PollInterval).
		Int("max_parallel_runs", cfg.Scheduler.MaxParallelRuns).
		Msg("Scheduler started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	sched.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	return nil
}

func runTick(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := a.newScheduler().CheckAndRunDueSchedules(ctx)
	cmd.Printf("eligible=%d dispatched=%d deferred=%d\n", report.Eligible, report.Dispatched, report.Deferred)
	return nil
}
