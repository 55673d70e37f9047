package connections

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		ForeignKeys:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestStore_ProjectScoping(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	alice := &Project{Name: "alice-prod"}
	require.NoError(t, store.CreateProject(ctx, database.AsUser("alice"), alice))
	assert.Equal(t, "alice", alice.OwnerID)

	bob := &Project{Name: "bob-prod"}
	require.NoError(t, store.CreateProject(ctx, database.AsUser("bob"), bob))

	got, err := store.ListProjects(ctx, database.AsUser("alice"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alice.ID, got[0].ID)

	all, err := store.ListProjects(ctx, database.Admin())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = store.GetProject(ctx, database.AsUser("alice"), bob.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateProjectRequiresOwner(t *testing.T) {
	store := NewStore(testDB(t))

	err := store.CreateProject(context.Background(), database.Admin(), &Project{Name: "orphan"})
	assert.Error(t, err)
}

func TestStore_ConnectionDefaults(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()
	access := database.AsUser("alice")

	p := &Project{Name: "prod"}
	require.NoError(t, store.CreateProject(ctx, access, p))

	first := &Connection{ProjectID: p.ID, Name: "primary", ConnectionString: "postgres://a"}
	require.NoError(t, store.CreateConnection(ctx, access, first))
	assert.True(t, first.IsDefault, "first connection becomes default")

	second := &Connection{ProjectID: p.ID, Name: "replica", ConnectionString: "postgres://b", IsDefault: true}
	require.NoError(t, store.CreateConnection(ctx, access, second))

	reloaded, err := store.GetConnection(ctx, access, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsDefault, "default moves to the newer connection")

	conns, err := store.ListConnections(ctx, access, p.ID)
	require.NoError(t, err)
	assert.Len(t, conns, 2)
}

func TestStore_ConnectionDuplicateName(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()
	access := database.AsUser("alice")

	p := &Project{Name: "prod"}
	require.NoError(t, store.CreateProject(ctx, access, p))
	require.NoError(t, store.CreateConnection(ctx, access, &Connection{ProjectID: p.ID, Name: "main", ConnectionString: "postgres://a"}))

	err := store.CreateConnection(ctx, access, &Connection{ProjectID: p.ID, Name: "main", ConnectionString: "postgres://b"})
	assert.ErrorIs(t, err, database.ErrUniqueViolation)
}

func TestStore_ConnectionForeignProject(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	p := &Project{Name: "prod"}
	require.NoError(t, store.CreateProject(ctx, database.AsUser("alice"), p))

	err := store.CreateConnection(ctx, database.AsUser("mallory"), &Connection{
		ProjectID:        p.ID,
		Name:             "sneaky",
		ConnectionString: "postgres://x",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
