package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/watzon/dbsentry/internal/metrics"
)

// JobRunner executes one schedule's playbook.
type JobRunner interface {
	Run(ctx context.Context, s *Schedule, now time.Time) (*Run, error)
}

// Config holds configuration for Scheduler.
type Config struct {
	// PollInterval is how often to poll for due schedules (default: 1 minute).
	PollInterval    time.Duration
	MaxParallelRuns int
	// RecoveryTimeout is how long past its NextRun a running schedule is
	// considered crashed.
	RecoveryTimeout time.Duration
}

// TickReport summarizes one CheckAndRunDueSchedules call.
type TickReport struct {
	Eligible   int
	Dispatched int
	Deferred   int
}

// Scheduler polls for due schedules and runs them under a process-wide
// concurrency cap.
type Scheduler struct {
	store  *Store
	runner JobRunner
	gate   *Gate
	cfg    Config

	now     func() time.Time
	shuffle func([]*Schedule)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store *Store, runner JobRunner, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.MaxParallelRuns < 1 {
		cfg.MaxParallelRuns = 20
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 900 * time.Second
	}

	return &Scheduler{
		store:   store,
		runner:  runner,
		gate:    NewGate(cfg.MaxParallelRuns),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		shuffle: shuffleSchedules,
	}
}

func shuffleSchedules(s []*Schedule) {
	rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// Gate returns the scheduler's concurrency gate.
func (s *Scheduler) Gate() *Gate {
	return s.gate
}

// Start begins background polling. Ticks may overlap when runs outlast the
// poll interval; the shared gate and the claim keep that safe.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.pollLoop(ctx)

	log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Int("max_parallel_runs", s.cfg.MaxParallelRuns).
		Dur("recovery_timeout", s.cfg.RecoveryTimeout).
		Msg("Scheduler started")
}

// Stop cancels polling and every in-flight run, then waits for those runs to
// return and write back their schedule state. Interrupted runs are
// rescheduled without counting as failures.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.CheckAndRunDueSchedules(ctx)
			}()
		}
	}
}

// CheckAndRunDueSchedules runs one tick: it finds eligible schedules, picks
// at most MaxParallelRuns of them in random order and waits for their runs.
// Errors are logged, never returned.
func (s *Scheduler) CheckAndRunDueSchedules(ctx context.Context) (report TickReport) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Scheduler tick panicked")
		}
	}()

	now := s.now()

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list due schedules")
		return report
	}

	eligible := make([]*Schedule, 0, len(due))
	for _, sched := range due {
		if ShouldRun(sched, now, s.cfg.RecoveryTimeout) {
			eligible = append(eligible, sched)
		}
	}
	report.Eligible = len(eligible)
	metrics.RecordTick(len(eligible))

	if len(eligible) == 0 {
		return report
	}

	s.shuffle(eligible)
	if len(eligible) > s.cfg.MaxParallelRuns {
		report.Deferred = len(eligible) - s.cfg.MaxParallelRuns
		eligible = eligible[:s.cfg.MaxParallelRuns]
	}

	var g errgroup.Group
	for _, sched := range eligible {
		if !s.gate.TryAcquire() {
			report.Deferred++
			continue
		}
		report.Dispatched++

		g.Go(func() error {
			defer s.gate.Release()
			if err := s.RunJob(ctx, sched, now); err != nil {
				log.Error().
					Err(err).
					Str("schedule_id", sched.ID).
					Msg("Schedule job failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Debug().
		Int("eligible", report.Eligible).
		Int("dispatched", report.Dispatched).
		Int("deferred", report.Deferred).
		Msg("Scheduler tick finished")

	return report
}

// RunJob claims a schedule, runs it and always writes back the next run.
// Losing the claim is not an error. Run failures are counted and logged;
// only claim and write-back failures are returned.
func (s *Scheduler) RunJob(ctx context.Context, sched *Schedule, now time.Time) error {
	claimed, err := s.claim(ctx, sched, now)
	if err != nil {
		return err
	}
	if !claimed {
		metrics.RecordClaimConflict()
		log.Debug().
			Str("schedule_id", sched.ID).
			Msg("Schedule already claimed by another worker")
		return nil
	}

	metrics.IncrementInFlight()
	defer metrics.DecrementInFlight()

	start := time.Now()
	run, runErr := s.execute(ctx, sched, now)

	var level string
	if run != nil {
		level = string(run.NotificationLevel)
	}
	// A run cut short by shutdown is not the schedule's fault and does not
	// count against it.
	interrupted := runErr != nil && ctx.Err() != nil
	metrics.RecordRun(level, time.Since(start), runErr != nil && !interrupted)

	// Bookkeeping must land even if the tick is being cancelled, otherwise
	// the schedule waits for crash recovery.
	writeCtx := context.WithoutCancel(ctx)

	switch {
	case interrupted:
		log.Warn().
			Err(runErr).
			Str("schedule_id", sched.ID).
			Str("playbook", sched.Playbook).
			Msg("Playbook run interrupted by shutdown")
	case runErr != nil:
		log.Error().
			Err(runErr).
			Str("schedule_id", sched.ID).
			Str("playbook", sched.Playbook).
			Msg("Playbook run failed")

		if err := s.store.IncrementFailures(writeCtx, sched.ID); err != nil {
			log.Error().
				Err(err).
				Str("schedule_id", sched.ID).
				Msg("Failed to increment schedule failures")
		}
	default:
		log.Info().
			Str("schedule_id", sched.ID).
			Str("playbook", sched.Playbook).
			Str("level", level).
			Dur("duration", time.Since(start)).
			Msg("Playbook run finished")
	}

	next := ComputeNextRun(sched, now)
	if err := s.store.SetScheduledState(writeCtx, sched.ID, next, now); err != nil {
		return fmt.Errorf("rescheduling %s: %w", sched.ID, err)
	}

	log.Debug().
		Str("schedule_id", sched.ID).
		Time("next_run", next).
		Msg("Schedule next_run updated")

	return nil
}

func (s *Scheduler) claim(ctx context.Context, sched *Schedule, now time.Time) (bool, error) {
	if sched.NextRun == nil {
		return false, nil
	}
	switch sched.Status {
	case StatusScheduled:
		return s.store.TryClaimRunning(ctx, sched.ID, *sched.NextRun)
	case StatusRunning:
		ok, err := s.store.TryReclaimStale(ctx, sched.ID, *sched.NextRun, now)
		if ok {
			log.Warn().
				Str("schedule_id", sched.ID).
				Time("next_run", *sched.NextRun).
				Msg("Reclaiming schedule stuck in running")
		}
		return ok, err
	default:
		return false, nil
	}
}

func (s *Scheduler) execute(ctx context.Context, sched *Schedule, now time.Time) (run *Run, err error) {
	defer func() {
		if p := recover(); p != nil {
			run = nil
			err = fmt.Errorf("playbook run panicked: %v", p)
		}
	}()
	return s.runner.Run(ctx, sched, now)
}
