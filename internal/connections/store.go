package connections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/dbsentry/internal/database"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateProject inserts a project. User access always owns the project it
// creates.
func (s *Store) CreateProject(ctx context.Context, access database.Access, p *Project) error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if !access.IsAdmin() {
		p.OwnerID = access.UserID
	}
	if p.OwnerID == "" {
		return fmt.Errorf("project owner is required")
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, owner_id, slack_webhook_url, discord_webhook_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.OwnerID, p.SlackWebhookURL, p.DiscordWebhookURL, database.FormatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting project: %w", database.ClassifyError(err))
	}

	return nil
}

func (s *Store) GetProject(ctx context.Context, access database.Access, id string) (*Project, error) {
	scope, args := access.Scope("owner_id")
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, slack_webhook_url, discord_webhook_url, created_at
		FROM projects
		WHERE id = ? AND `+scope,
		append([]any{id}, args...)...,
	)

	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}

	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, access database.Access) ([]*Project, error) {
	scope, args := access.Scope("owner_id")
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_id, slack_webhook_url, discord_webhook_url, created_at
		FROM projects
		WHERE `+scope+`
		ORDER BY created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}

// CreateConnection inserts a connection. The first connection of a project,
// or one flagged IsDefault, becomes the project's default.
func (s *Store) CreateConnection(ctx context.Context, access database.Access, c *Connection) error {
	if c.Name == "" || c.ConnectionString == "" {
		return fmt.Errorf("connection name and connection string are required")
	}
	if _, err := s.GetProject(ctx, access, c.ProjectID); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM connections WHERE project_id = ?`, c.ProjectID,
		).Scan(&existing); err != nil {
			return fmt.Errorf("counting connections: %w", err)
		}
		if existing == 0 {
			c.IsDefault = true
		}

		if c.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE connections SET is_default = 0 WHERE project_id = ?`, c.ProjectID,
			); err != nil {
				return fmt.Errorf("clearing default connection: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO connections (id, project_id, name, connection_string, is_default, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, c.ProjectID, c.Name, c.ConnectionString, c.IsDefault, database.FormatTime(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting connection: %w", database.ClassifyError(err))
		}
		return nil
	})
}

func (s *Store) GetConnection(ctx context.Context, access database.Access, id string) (*Connection, error) {
	scope, args := access.Scope("p.owner_id")
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.project_id, c.name, c.connection_string, c.is_default, c.created_at
		FROM connections c
		JOIN projects p ON p.id = c.project_id
		WHERE c.id = ? AND `+scope,
		append([]any{id}, args...)...,
	)

	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting connection: %w", err)
	}

	return c, nil
}

func (s *Store) ListConnections(ctx context.Context, access database.Access, projectID string) ([]*Connection, error) {
	scope, args := access.Scope("p.owner_id")
	query := `
		SELECT c.id, c.project_id, c.name, c.connection_string, c.is_default, c.created_at
		FROM connections c
		JOIN projects p ON p.id = c.project_id
		WHERE ` + scope
	if projectID != "" {
		query += ` AND c.project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY c.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connection row: %w", err)
		}
		conns = append(conns, c)
	}

	return conns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*Project, error) {
	var p Project
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.SlackWebhookURL, &p.DiscordWebhookURL, &createdAt); err != nil {
		return nil, err
	}
	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = t
	return &p, nil
}

func scanConnection(row scanner) (*Connection, error) {
	var c Connection
	var createdAt string
	var isDefault int
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.ConnectionString, &isDefault, &createdAt); err != nil {
		return nil, err
	}
	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	c.IsDefault = isDefault == 1
	c.CreatedAt = t
	return &c, nil
}
