// Package runner executes a schedule's playbook through the agent loop and
// applies the resulting severity.
package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dbsentry/internal/agent"
	"github.com/watzon/dbsentry/internal/connections"
	"github.com/watzon/dbsentry/internal/notify"
	"github.com/watzon/dbsentry/internal/playbooks"
	"github.com/watzon/dbsentry/internal/scheduler"
)

// ScheduleStore is the part of scheduler.Store the runner needs.
type ScheduleStore interface {
	GetConnection(ctx context.Context, scheduleID string) (*connections.Connection, error)
	GetProject(ctx context.Context, connectionID string) (*connections.Project, error)
	IncrementFailures(ctx context.Context, id string) error
}

type RunStore interface {
	InsertAndTrim(ctx context.Context, run *scheduler.Run, keepHistory int) (*scheduler.Run, error)
}

// ToolProvider opens the target database and binds the tool set to it. The
// returned Closer releases the connection.
type ToolProvider interface {
	Tools(ctx context.Context, conn *connections.Connection) ([]agent.Tool, io.Closer, error)
}

type Runner struct {
	store     ScheduleStore
	runs      RunStore
	invoker   agent.Invoker
	sink      notify.Sink
	tools     ToolProvider
	playbooks *playbooks.Registry
}

func New(store ScheduleStore, runs RunStore, invoker agent.Invoker, sink notify.Sink, tools ToolProvider, registry *playbooks.Registry) *Runner {
	return &Runner{
		store:     store,
		runs:      runs,
		invoker:   invoker,
		sink:      sink,
		tools:     tools,
		playbooks: registry,
	}
}

// Run executes the schedule's playbook, classifies the outcome, optionally
// drills down into further playbooks, writes the final report and persists
// the run. Infrastructure and classification errors are returned; tool and
// notification failures are not.
func (r *Runner) Run(ctx context.Context, s *scheduler.Schedule, now time.Time) (*scheduler.Run, error) {
	conn, err := r.store.GetConnection(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving connection: %w", err)
	}
	project, err := r.store.GetProject(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving project: %w", err)
	}

	tools, closer, err := r.tools.Tools(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("opening connection %s: %w", conn.Name, err)
	}
	defer closer.Close()

	logger := log.With().
		Str("schedule_id", s.ID).
		Str("connection", conn.Name).
		Str("playbook", s.Playbook).
		Logger()

	system := monitoringSystemPrompt(s.Playbook)
	pb, ok := r.playbooks.Get(s.Playbook)
	transcript := []agent.Message{
		{Role: agent.RoleUser, Content: playbookMessage(pb, ok, s.Playbook)},
		{Role: agent.RoleUser, Content: additionalInstructionsMessage(s)},
	}

	resp, err := r.invoker.Invoke(ctx, agent.Request{
		Model:    s.Model,
		System:   system,
		Messages: transcript,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("running playbook %s: %w", s.Playbook, err)
	}
	transcript = append(transcript, resp.Messages...)
	logger.Debug().Int("messages", len(transcript)).Msg("Playbook step completed")

	var sev severity
	if err := r.invoker.Classify(ctx, agent.ClassifyRequest{
		Model:    s.Model,
		System:   severitySystemPrompt,
		Messages: withInstruction(transcript, classifyInstruction),
		Schema:   severitySchema,
	}, &sev); err != nil {
		return nil, fmt.Errorf("classifying severity: %w", err)
	}
	level := scheduler.NotificationLevel(sev.NotificationLevel)
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown level %q", agent.ErrClassification, sev.NotificationLevel)
	}

	transcript, err = r.drillDown(ctx, s, system, tools, transcript)
	if err != nil {
		return nil, err
	}

	final, err := r.invoker.Invoke(ctx, agent.Request{
		Model:    s.Model,
		System:   summarySystemPrompt,
		Messages: withInstruction(transcript, summaryInstruction),
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing run: %w", err)
	}

	projectID := s.ProjectID
	if projectID == "" {
		projectID = project.ID
	}
	persisted := append([]agent.Message{{Role: agent.RoleSystem, Content: system}}, transcript...)
	run, err := r.runs.InsertAndTrim(ctx, &scheduler.Run{
		ScheduleID:        s.ID,
		ProjectID:         projectID,
		Messages:          persisted,
		Result:            final.Text,
		Summary:           sev.Summary,
		NotificationLevel: level,
		CreatedAt:         now,
	}, s.KeepHistory)
	if err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	r.applySeverity(ctx, s, conn, project, run)

	logger.Info().
		Str("run_id", run.ID).
		Str("level", string(level)).
		Msg("Playbook run recorded")

	return run, nil
}

// drillDown asks after each step whether another playbook should run. It
// makes at most MaxSteps-1 additional playbook invocations.
func (r *Runner) drillDown(ctx context.Context, s *scheduler.Schedule, system string, tools []agent.Tool, transcript []agent.Message) ([]agent.Message, error) {
	maxSteps := s.MaxSteps
	if maxSteps < 1 {
		maxSteps = 1
	}
	schema, err := drillDownSchema(r.playbooks.Names())
	if err != nil {
		return nil, err
	}

	for step := 1; step < maxSteps; step++ {
		var decision drillDown
		if err := r.invoker.Classify(ctx, agent.ClassifyRequest{
			Model:    s.Model,
			System:   drillDownSystemPrompt,
			Messages: withInstruction(transcript, drillDownInstruction),
			Schema:   schema,
		}, &decision); err != nil {
			return nil, fmt.Errorf("deciding drill-down: %w", err)
		}
		if !decision.ShouldRunPlaybook {
			break
		}

		pb, ok := r.playbooks.Get(decision.RecommendedPlaybook)
		if !ok {
			return nil, fmt.Errorf("%w: unknown playbook %q", agent.ErrClassification, decision.RecommendedPlaybook)
		}

		log.Debug().
			Str("schedule_id", s.ID).
			Str("playbook", pb.Name).
			Int("step", step+1).
			Msg("Drilling down")

		transcript = append(transcript, agent.Message{Role: agent.RoleUser, Content: playbookMessage(pb, true, pb.Name)})
		resp, err := r.invoker.Invoke(ctx, agent.Request{
			Model:    s.Model,
			System:   system,
			Messages: transcript,
			Tools:    tools,
		})
		if err != nil {
			return nil, fmt.Errorf("running playbook %s: %w", pb.Name, err)
		}
		transcript = append(transcript, resp.Messages...)
	}

	return transcript, nil
}

// applySeverity counts alerts as failures and notifies when the level meets
// the schedule's threshold. Neither side effect fails the run.
func (r *Runner) applySeverity(ctx context.Context, s *scheduler.Schedule, conn *connections.Connection, project *connections.Project, run *scheduler.Run) {
	level := run.NotificationLevel

	if level == scheduler.LevelAlert {
		if err := r.store.IncrementFailures(ctx, s.ID); err != nil {
			log.Error().Err(err).Str("schedule_id", s.ID).Msg("Failed to increment schedule failures")
		}
	}

	if !level.AtLeast(s.NotifyLevel) {
		return
	}

	err := r.sink.Notify(ctx, notify.Notification{
		Schedule:   s,
		Connection: conn,
		Project:    project,
		Level:      level,
		Title:      notificationTitle(level, s.Playbook, conn.Name),
		Message:    run.Result,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("schedule_id", s.ID).
			Str("run_id", run.ID).
			Msg("Failed to send notification")
	}
}

func withInstruction(transcript []agent.Message, instruction string) []agent.Message {
	out := make([]agent.Message, 0, len(transcript)+1)
	out = append(out, transcript...)
	return append(out, agent.Message{Role: agent.RoleUser, Content: instruction})
}
