package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dbsentry/internal/agent"
	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/connections"
	"github.com/watzon/dbsentry/internal/database"
	"github.com/watzon/dbsentry/internal/notify"
	"github.com/watzon/dbsentry/internal/playbooks"
	"github.com/watzon/dbsentry/internal/runner"
	"github.com/watzon/dbsentry/internal/scheduler"
)

// app holds the stores every command works with.
type app struct {
	cfg         *config.Config
	db          *database.DB
	connections *connections.Store
	schedules   *scheduler.Store
	runs        *scheduler.RunStore
	playbooks   *playbooks.Registry
}

func openApp(c *config.Config) (*app, error) {
	db, err := database.Open(&c.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	schedules := scheduler.NewStore(db)
	schedules.SetDefaults(c.Scheduler.DefaultKeepHistory, c.Scheduler.DefaultMaxSteps)

	registry := playbooks.NewRegistry()
	if c.Playbooks.Dir != "" {
		n, err := registry.LoadDir(c.Playbooks.Dir)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("loading playbooks: %w", err)
		}
		log.Debug().Int("count", n).Str("dir", c.Playbooks.Dir).Msg("Loaded user playbooks")
	}

	return &app{
		cfg:         c,
		db:          db,
		connections: connections.NewStore(db),
		schedules:   schedules,
		runs:        scheduler.NewRunStore(db),
		playbooks:   registry,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) newScheduler() *scheduler.Scheduler {
	r := runner.New(
		a.schedules,
		a.runs,
		agent.NewOpenAI(a.cfg.LLM),
		notify.NewDispatcher(a.cfg.Notifications),
		runner.NewPostgresProvider(a.cfg.Targets, a.playbooks),
		a.playbooks,
	)

	return scheduler.NewScheduler(a.schedules, r, scheduler.Config{
		PollInterval:    a.cfg.Scheduler.PollInterval,
		MaxParallelRuns: a.cfg.Scheduler.MaxParallelRuns,
		RecoveryTimeout: a.cfg.Scheduler.RecoveryTimeout(),
	})
}
