package runner

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dbsentry/internal/agent"
	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/connections"
	"github.com/watzon/dbsentry/internal/playbooks"
	"github.com/watzon/dbsentry/internal/tools"
)

// PostgresProvider opens one pooled lib/pq handle per run.
type PostgresProvider struct {
	cfg       config.TargetsConfig
	playbooks *playbooks.Registry
}

func NewPostgresProvider(cfg config.TargetsConfig, registry *playbooks.Registry) *PostgresProvider {
	return &PostgresProvider{cfg: cfg, playbooks: registry}
}

func (p *PostgresProvider) Tools(ctx context.Context, conn *connections.Connection) ([]agent.Tool, io.Closer, error) {
	db, err := tools.Open(ctx, conn.ConnectionString, p.cfg)
	if err != nil {
		return nil, nil, err
	}

	set := tools.NewPostgresTools(db, p.playbooks)
	log.Debug().
		Str("connection", conn.Name).
		Strs("tools", tools.Names(set)).
		Msg("Bound tools to target database")

	return set, db, nil
}
