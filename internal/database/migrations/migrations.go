// Package migrations applies the embedded control-plane schema.
//
// Files under sql/ are named NNN_description.sql. The numeric prefix is the
// schema version; a file is applied once, in its own transaction, when its
// version is above the highest version recorded in _dbsentry_versions.
package migrations

import (
	"bufio"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

type step struct {
	version    int
	name       string
	statements []string
}

// Apply brings the schema up to date and returns the resulting version.
func Apply(ctx context.Context, db *sql.DB) (int, error) {
	steps, err := load(sqlFS)
	if err != nil {
		return 0, err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _dbsentry_versions (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("creating version table: %w", err)
	}

	current, err := Version(ctx, db)
	if err != nil {
		return 0, err
	}

	for _, st := range steps {
		if st.version <= current {
			continue
		}
		if err := apply(ctx, db, st); err != nil {
			return current, fmt.Errorf("migration %03d_%s: %w", st.version, st.name, err)
		}
		current = st.version
		log.Info().Int("version", st.version).Str("name", st.name).Msg("Applied migration")
	}

	return current, nil
}

// Version reports the highest applied schema version, or 0 on a fresh store.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM _dbsentry_versions`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func apply(ctx context.Context, db *sql.DB, st step) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range st.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _dbsentry_versions (version, name, applied_at) VALUES (?, ?, ?)`,
		st.version, st.name, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	return tx.Commit()
}

func load(fsys fs.FS) ([]step, error) {
	files, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, err
	}

	steps := make([]step, 0, len(files))
	seen := make(map[int]string, len(files))
	for _, file := range files {
		base := strings.TrimSuffix(path.Base(file), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		version, convErr := strconv.Atoi(prefix)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("migration file %q: name must look like NNN_description.sql", file)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by both %q and %q", version, prev, file)
		}
		seen[version] = file

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, err
		}
		statements := splitStatements(string(raw))
		if len(statements) == 0 {
			return nil, fmt.Errorf("migration file %q has no statements", file)
		}
		steps = append(steps, step{version: version, name: name, statements: statements})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// splitStatements breaks a migration file into statements. A statement ends
// on a line whose last non-blank character is a semicolon; whole-line "--"
// comments are dropped.
func splitStatements(src string) []string {
	var (
		out []string
		buf []string
	)
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if strings.HasSuffix(line, ";") {
			buf = append(buf, strings.TrimSuffix(line, ";"))
			out = append(out, strings.Join(buf, "\n"))
			buf = buf[:0]
			continue
		}
		buf = append(buf, line)
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, "\n"))
	}
	return out
}
