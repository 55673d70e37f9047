package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/connections"
	"github.com/watzon/dbsentry/internal/database"
)

// testDB creates a test database with migrations.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  10 * time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// seedConnection creates a project owned by "alice" with one connection and
// returns the connection.
func seedConnection(t *testing.T, db *database.DB) *connections.Connection {
	t.Helper()

	ctx := context.Background()
	store := connections.NewStore(db)
	access := database.AsUser("alice")

	p := &connections.Project{Name: "prod", SlackWebhookURL: "https://hooks.example/slack"}
	require.NoError(t, store.CreateProject(ctx, access, p))

	c := &connections.Connection{ProjectID: p.ID, Name: "primary", ConnectionString: "postgres://localhost/app"}
	require.NoError(t, store.CreateConnection(ctx, access, c))

	return c
}

func createSchedule(t *testing.T, store *Store, connectionID string, mutate func(*Schedule)) *Schedule {
	t.Helper()

	s := &Schedule{
		ConnectionID:   connectionID,
		Playbook:       "generalMonitoring",
		Type:           ScheduleTypeCron,
		CronExpression: "0 0 * * *",
		Enabled:        true,
		NotifyLevel:    LevelWarning,
	}
	if mutate != nil {
		mutate(s)
	}

	require.NoError(t, store.Create(context.Background(), database.AsUser("alice"), s))
	return s
}

// forceState overwrites lifecycle columns directly, for setting up due or
// stale schedules.
func forceState(t *testing.T, db *database.DB, id string, status Status, nextRun *time.Time) {
	t.Helper()

	_, err := db.ExecContext(context.Background(),
		`UPDATE schedules SET status = ?, next_run = ? WHERE id = ?`,
		string(status), database.FormatNullTime(nextRun), id,
	)
	require.NoError(t, err)
}
