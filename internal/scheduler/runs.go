package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/dbsentry/internal/agent"
	"github.com/watzon/dbsentry/internal/database"
)

var ErrRunNotFound = errors.New("run not found")

// RunStore persists run history with per-schedule retention.
type RunStore struct {
	db *database.DB
}

func NewRunStore(db *database.DB) *RunStore {
	return &RunStore{db: db}
}

// InsertAndTrim appends run and then evicts the oldest runs of its schedule
// beyond keepHistory, all in one transaction. Order is (created_at, id)
// newest first. The row just inserted is never evicted; it counts as one of
// the kept rows. keepHistory below 1 is treated as 1.
func (s *RunStore) InsertAndTrim(ctx context.Context, run *Run, keepHistory int) (*Run, error) {
	if keepHistory < 1 {
		keepHistory = 1
	}
	if !run.NotificationLevel.Valid() {
		return nil, fmt.Errorf("inserting run: unknown notification level %q", run.NotificationLevel)
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	messages := run.Messages
	if messages == nil {
		messages = []agent.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshaling messages: %w", err)
	}

	err = s.db.Transaction(ctx, func(tx *database.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_runs (id, schedule_id, project_id, messages, result, summary, notification_level, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			run.ScheduleID,
			run.ProjectID,
			string(messagesJSON),
			run.Result,
			run.Summary,
			string(run.NotificationLevel),
			database.FormatTime(run.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting run: %w", database.ClassifyError(err))
		}

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schedule_runs WHERE schedule_id = ?`, run.ScheduleID,
		).Scan(&count); err != nil {
			return fmt.Errorf("counting runs: %w", err)
		}
		if count <= keepHistory {
			return nil
		}

		if keepHistory == 1 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM schedule_runs WHERE schedule_id = ? AND id != ?`, run.ScheduleID, run.ID,
			); err != nil {
				return fmt.Errorf("trimming runs: %w", err)
			}
			return nil
		}

		// The new row always stays, so the cutoff is the (keepHistory-1)-th
		// newest of the other rows.
		var cutoffAt, cutoffID string
		if err := tx.QueryRowContext(ctx, `
			SELECT created_at, id FROM schedule_runs
			WHERE schedule_id = ? AND id != ?
			ORDER BY created_at DESC, id DESC
			LIMIT 1 OFFSET ?
		`, run.ScheduleID, run.ID, keepHistory-2).Scan(&cutoffAt, &cutoffID); err != nil {
			return fmt.Errorf("finding retention cutoff: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM schedule_runs
			WHERE schedule_id = ?
			  AND id != ?
			  AND (created_at < ? OR (created_at = ? AND id < ?))
		`, run.ScheduleID, run.ID, cutoffAt, cutoffAt, cutoffID); err != nil {
			return fmt.Errorf("trimming runs: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

const runColumns = `r.id, r.schedule_id, r.project_id, r.messages, r.result, r.summary, r.notification_level, r.created_at`

// ListRuns returns a schedule's runs newest first. A limit of 0 returns all.
func (s *RunStore) ListRuns(ctx context.Context, access database.Access, scheduleID string, limit int) ([]*Run, error) {
	scope, args := access.Scope("s.user_id")
	query := `
		SELECT ` + runColumns + `
		FROM schedule_runs r
		JOIN schedules s ON s.id = r.schedule_id
		WHERE r.schedule_id = ? AND ` + scope + `
		ORDER BY r.created_at DESC, r.id DESC`
	params := append([]any{scheduleID}, args...)
	if limit > 0 {
		query += ` LIMIT ?`
		params = append(params, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}

	return runs, nil
}

func (s *RunStore) GetRun(ctx context.Context, access database.Access, id string) (*Run, error) {
	scope, args := access.Scope("s.user_id")
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM schedule_runs r
		JOIN schedules s ON s.id = r.schedule_id
		WHERE r.id = ? AND `+scope,
		append([]any{id}, args...)...,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return run, nil
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var messagesJSON, level, createdAt string

	if err := row.Scan(
		&run.ID,
		&run.ScheduleID,
		&run.ProjectID,
		&messagesJSON,
		&run.Result,
		&run.Summary,
		&level,
		&createdAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messagesJSON), &run.Messages); err != nil {
		return nil, fmt.Errorf("unmarshaling messages: %w", err)
	}

	run.NotificationLevel = NotificationLevel(level)

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	run.CreatedAt = t

	return &run, nil
}
