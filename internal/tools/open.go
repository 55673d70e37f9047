// Package tools exposes read-only PostgreSQL inspection functions to the
// monitoring agent.
package tools

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/watzon/dbsentry/internal/config"
)

// Open returns a small pool against a target database. connect_timeout and
// statement_timeout from cfg are added to the DSN.
func Open(ctx context.Context, dsn string, cfg config.TargetsConfig) (*sql.DB, error) {
	full, err := buildDSN(dsn, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", full)
	if err != nil {
		return nil, fmt.Errorf("opening target database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 2
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to target database: %w", err)
	}

	return db, nil
}

func buildDSN(dsn string, cfg config.TargetsConfig) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("empty connection string")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		kv, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("parsing connection string: %w", err)
		}
		dsn = kv
	}

	parts := []string{dsn}
	if cfg.ConnectTimeout > 0 {
		secs := int(cfg.ConnectTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	if cfg.StatementTimeout > 0 {
		parts = append(parts, fmt.Sprintf("statement_timeout=%d", cfg.StatementTimeout.Milliseconds()))
	}
	return strings.Join(parts, " "), nil
}
