package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/dbsentry/internal/connections"
	"github.com/watzon/dbsentry/internal/database"
)

const (
	DefaultKeepHistory = 300
	DefaultMaxSteps    = 5
)

const scheduleColumns = `
	s.id, s.user_id, s.project_id, s.connection_id, s.playbook, s.model,
	s.schedule_type, s.cron_expression, s.min_interval, s.max_interval,
	s.enabled, s.status, s.last_run, s.next_run, s.failures,
	s.keep_history, s.max_steps, s.notify_level,
	s.additional_instructions, s.extra_notification_text,
	s.created_at, s.updated_at`

// Store handles database operations for schedules.
type Store struct {
	db          *database.DB
	keepHistory int
	maxSteps    int
}

func NewStore(db *database.DB) *Store {
	return &Store{
		db:          db,
		keepHistory: DefaultKeepHistory,
		maxSteps:    DefaultMaxSteps,
	}
}

// SetDefaults changes the values Create fills in for zero KeepHistory and
// MaxSteps.
func (s *Store) SetDefaults(keepHistory, maxSteps int) {
	if keepHistory > 0 {
		s.keepHistory = keepHistory
	}
	if maxSteps > 0 {
		s.maxSteps = maxSteps
	}
}

// Create validates and inserts a schedule. The schedule starts out
// scheduled, with NextRun computed only when it is enabled.
func (s *Store) Create(ctx context.Context, access database.Access, schedule *Schedule) error {
	if !access.IsAdmin() {
		schedule.UserID = access.UserID
	}
	if schedule.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidSchedule)
	}
	if schedule.ConnectionID == "" {
		return fmt.Errorf("%w: connection is required", ErrInvalidSchedule)
	}
	if schedule.Playbook == "" {
		return fmt.Errorf("%w: playbook is required", ErrInvalidSchedule)
	}
	if err := validateTiming(schedule); err != nil {
		return err
	}

	if schedule.NotifyLevel == "" {
		schedule.NotifyLevel = LevelAlert
	}
	if !schedule.NotifyLevel.Valid() {
		return fmt.Errorf("%w: unknown notify level %q", ErrInvalidSchedule, schedule.NotifyLevel)
	}
	if schedule.KeepHistory <= 0 {
		schedule.KeepHistory = s.keepHistory
	}
	if schedule.MaxSteps <= 0 {
		schedule.MaxSteps = s.maxSteps
	}

	projectID, err := s.connectionProject(ctx, access, schedule.ConnectionID)
	if err != nil {
		return err
	}
	schedule.ProjectID = projectID

	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	schedule.Status = StatusScheduled
	schedule.LastRun = nil
	schedule.NextRun = nil
	schedule.Failures = 0
	if schedule.Enabled {
		next := ComputeNextRun(schedule, now)
		schedule.NextRun = &next
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, user_id, project_id, connection_id, playbook, model,
			schedule_type, cron_expression, min_interval, max_interval,
			enabled, status, last_run, next_run, failures,
			keep_history, max_steps, notify_level,
			additional_instructions, extra_notification_text,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, 0, ?, ?, ?, ?, ?, ?, ?)
	`,
		schedule.ID,
		schedule.UserID,
		schedule.ProjectID,
		schedule.ConnectionID,
		schedule.Playbook,
		schedule.Model,
		string(schedule.Type),
		schedule.CronExpression,
		schedule.MinInterval,
		schedule.MaxInterval,
		schedule.Enabled,
		string(schedule.Status),
		database.FormatNullTime(schedule.NextRun),
		schedule.KeepHistory,
		schedule.MaxSteps,
		string(schedule.NotifyLevel),
		schedule.AdditionalInstructions,
		schedule.ExtraNotificationText,
		database.FormatTime(schedule.CreatedAt),
		database.FormatTime(schedule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", database.ClassifyError(err))
	}

	return nil
}

func (s *Store) connectionProject(ctx context.Context, access database.Access, connectionID string) (string, error) {
	scope, args := access.Scope("p.owner_id")
	var projectID string
	err := s.db.QueryRowContext(ctx, `
		SELECT c.project_id
		FROM connections c
		JOIN projects p ON p.id = c.project_id
		WHERE c.id = ? AND `+scope,
		append([]any{connectionID}, args...)...,
	).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: connection %s not found", ErrInvalidSchedule, connectionID)
	}
	if err != nil {
		return "", fmt.Errorf("resolving connection project: %w", err)
	}
	return projectID, nil
}

// SetEnabled toggles a schedule. Disabling clears NextRun; enabling
// recomputes it. A schedule that is currently running keeps that status and
// the run's write-back settles the final state.
func (s *Store) SetEnabled(ctx context.Context, access database.Access, id string, enabled bool) error {
	schedule, err := s.Get(ctx, access, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var nextRun any
	status := StatusDisabled
	if enabled {
		next := ComputeNextRun(schedule, now)
		nextRun = database.FormatTime(next)
		status = StatusScheduled
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE schedules
		SET enabled = ?,
		    status = CASE WHEN status = 'running' THEN 'running' ELSE ? END,
		    next_run = ?,
		    updated_at = ?
		WHERE id = ?
	`, enabled, string(status), nextRun, database.FormatTime(now), id)
	if err != nil {
		return fmt.Errorf("updating schedule enabled: %w", err)
	}

	return nil
}

// Delete removes a schedule and, through the foreign key, its runs.
func (s *Store) Delete(ctx context.Context, access database.Access, id string) error {
	scope, args := access.Scope("user_id")
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE id = ? AND `+scope,
		append([]any{id}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, access database.Access, id string) (*Schedule, error) {
	scope, args := access.Scope("s.user_id")
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules s WHERE s.id = ? AND `+scope,
		append([]any{id}, args...)...,
	)

	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	return schedule, nil
}

func (s *Store) List(ctx context.Context, access database.Access) ([]*Schedule, error) {
	scope, args := access.Scope("s.user_id")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules s WHERE `+scope+` ORDER BY s.created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// ListDue returns enabled schedules whose NextRun is at or before now. It is
// an unscoped read; callers still apply ShouldRun.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules s
		WHERE s.enabled = 1
		  AND s.next_run IS NOT NULL
		  AND s.next_run <= ?
		ORDER BY s.next_run ASC
	`, database.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("querying due schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// TryClaimRunning moves a schedule from scheduled to running in a single
// conditional write. The write only matches while next_run still holds the
// slot the caller observed, so a worker holding an older snapshot cannot
// claim a slot another worker already ran. It reports false when another
// worker got there first.
func (s *Store) TryClaimRunning(ctx context.Context, id string, observedNextRun time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = 'running', updated_at = ?
		WHERE id = ? AND status = 'scheduled' AND enabled = 1 AND next_run = ?
	`, database.Now(), id, database.FormatTime(observedNextRun))
	if err != nil {
		return false, fmt.Errorf("claiming schedule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming schedule: %w", err)
	}
	return n == 1, nil
}

// TryReclaimStale takes over a schedule stuck in running. The write is
// conditional on the NextRun the caller observed and moves NextRun to now, so
// only one worker can reclaim a given stale claim.
func (s *Store) TryReclaimStale(ctx context.Context, id string, observedNextRun, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET next_run = ?, updated_at = ?
		WHERE id = ? AND status = 'running' AND enabled = 1 AND next_run = ?
	`, database.FormatTime(now), database.Now(), id, database.FormatTime(observedNextRun))
	if err != nil {
		return false, fmt.Errorf("reclaiming schedule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaiming schedule: %w", err)
	}
	return n == 1, nil
}

// SetScheduledState records the end of a run. An enabled schedule returns to
// scheduled with the given NextRun; a schedule disabled mid-run settles as
// disabled with NextRun cleared.
func (s *Store) SetScheduledState(ctx context.Context, id string, nextRun, lastRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = CASE WHEN enabled = 1 THEN 'scheduled' ELSE 'disabled' END,
		    next_run = CASE WHEN enabled = 1 THEN ? ELSE NULL END,
		    last_run = ?,
		    updated_at = ?
		WHERE id = ?
	`, database.FormatTime(nextRun), database.FormatTime(lastRun), database.Now(), id)
	if err != nil {
		return fmt.Errorf("updating scheduled state: %w", err)
	}
	return nil
}

func (s *Store) IncrementFailures(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET failures = failures + 1, updated_at = ? WHERE id = ?
	`, database.Now(), id)
	if err != nil {
		return fmt.Errorf("incrementing failures: %w", err)
	}
	return nil
}

// GetConnection resolves the connection a schedule targets.
func (s *Store) GetConnection(ctx context.Context, scheduleID string) (*connections.Connection, error) {
	var c connections.Connection
	var isDefault int
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.project_id, c.name, c.connection_string, c.is_default, c.created_at
		FROM schedules s
		JOIN connections c ON c.id = s.connection_id
		WHERE s.id = ?
	`, scheduleID).Scan(&c.ID, &c.ProjectID, &c.Name, &c.ConnectionString, &isDefault, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection for schedule %s: %w", scheduleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting schedule connection: %w", err)
	}

	c.IsDefault = isDefault == 1
	if c.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetProject resolves the project that owns a connection.
func (s *Store) GetProject(ctx context.Context, connectionID string) (*connections.Project, error) {
	var p connections.Project
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.owner_id, p.slack_webhook_url, p.discord_webhook_url, p.created_at
		FROM connections c
		JOIN projects p ON p.id = c.project_id
		WHERE c.id = ?
	`, connectionID).Scan(&p.ID, &p.Name, &p.OwnerID, &p.SlackWebhookURL, &p.DiscordWebhookURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project for connection %s: %w", connectionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting connection project: %w", err)
	}

	if p.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var schedule Schedule
	var scheduleType, status, notifyLevel string
	var lastRun, nextRun sql.NullString
	var createdAt, updatedAt string
	var enabled int

	err := row.Scan(
		&schedule.ID,
		&schedule.UserID,
		&schedule.ProjectID,
		&schedule.ConnectionID,
		&schedule.Playbook,
		&schedule.Model,
		&scheduleType,
		&schedule.CronExpression,
		&schedule.MinInterval,
		&schedule.MaxInterval,
		&enabled,
		&status,
		&lastRun,
		&nextRun,
		&schedule.Failures,
		&schedule.KeepHistory,
		&schedule.MaxSteps,
		&notifyLevel,
		&schedule.AdditionalInstructions,
		&schedule.ExtraNotificationText,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Type = ScheduleType(scheduleType)
	schedule.Status = Status(status)
	schedule.NotifyLevel = NotificationLevel(notifyLevel)
	schedule.Enabled = enabled == 1

	if schedule.LastRun, err = database.ParseNullTime(lastRun); err != nil {
		return nil, fmt.Errorf("parsing last_run: %w", err)
	}
	if schedule.NextRun, err = database.ParseNullTime(nextRun); err != nil {
		return nil, fmt.Errorf("parsing next_run: %w", err)
	}
	if schedule.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if schedule.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &schedule, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule rows: %w", err)
	}

	return schedules, nil
}
