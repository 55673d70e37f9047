package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/watzon/dbsentry/internal/agent"
	"github.com/watzon/dbsentry/internal/playbooks"
)

// maxRows caps every result handed back to the model.
const maxRows = 200

// PlaybookSource is the read side of playbooks.Registry.
type PlaybookSource interface {
	Get(name string) (playbooks.Playbook, bool)
	List() []playbooks.Playbook
}

var errMultipleStatements = errors.New("only a single statement can be explained")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

var settingNames = []string{
	"max_connections",
	"shared_buffers",
	"effective_cache_size",
	"work_mem",
	"maintenance_work_mem",
	"random_page_cost",
	"effective_io_concurrency",
	"max_parallel_workers_per_gather",
	"max_wal_size",
	"checkpoint_timeout",
	"checkpoint_completion_target",
	"autovacuum",
	"autovacuum_max_workers",
	"autovacuum_naptime",
	"autovacuum_vacuum_scale_factor",
	"autovacuum_analyze_scale_factor",
	"autovacuum_vacuum_cost_limit",
	"idle_in_transaction_session_timeout",
	"statement_timeout",
}

type postgresTools struct {
	db        *sql.DB
	playbooks PlaybookSource
}

// NewPostgresTools binds the inspection tool set to one target database.
func NewPostgresTools(db *sql.DB, pb PlaybookSource) []agent.Tool {
	t := &postgresTools{db: db, playbooks: pb}

	noArgs := json.RawMessage(`{"type":"object","properties":{}}`)

	return []agent.Tool{
		{
			Name:        "getTablesAndInstanceInfo",
			Description: "Server version, database size, transaction id age and the largest tables.",
			Parameters:  noArgs,
			Execute:     t.instanceInfo,
		},
		{
			Name:        "describeTable",
			Description: "Columns and indexes of a table.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"table":{"type":"string","description":"Table name"},
				"schema":{"type":"string","description":"Schema name, defaults to public"}
			},"required":["table"]}`),
			Execute: t.describeTable,
		},
		{
			Name:        "explainQuery",
			Description: "EXPLAIN plan of a single SQL statement. The statement is not executed.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"query":{"type":"string","description":"SQL statement to explain"}
			},"required":["query"]}`),
			Execute: t.explainQuery,
		},
		{
			Name:        "getSlowQueries",
			Description: "Top queries by total execution time from pg_stat_statements.",
			Parameters:  noArgs,
			Execute:     t.queryTool(slowQueriesSQL),
		},
		{
			Name:        "getCurrentActiveQueries",
			Description: "Sessions that are not idle, longest running first.",
			Parameters:  noArgs,
			Execute:     t.queryTool(activeQueriesSQL),
		},
		{
			Name:        "getQueriesWaitingOnLocks",
			Description: "Blocked sessions together with the sessions blocking them.",
			Parameters:  noArgs,
			Execute:     t.queryTool(lockWaitsSQL),
		},
		{
			Name:        "getVacuumStats",
			Description: "Dead tuples and last vacuum/analyze times per table.",
			Parameters:  noArgs,
			Execute:     t.queryTool(vacuumStatsSQL),
		},
		{
			Name:        "getConnectionsStats",
			Description: "Connection counts by state and the max_connections limit.",
			Parameters:  noArgs,
			Execute:     t.queryTool(connectionStatsSQL),
		},
		{
			Name:        "getConnectionsGroups",
			Description: "Connections grouped by user, application, client address and state.",
			Parameters:  noArgs,
			Execute:     t.queryTool(connectionGroupsSQL),
		},
		{
			Name:        "getPerformanceAndVacuumSettings",
			Description: "Memory, checkpoint, parallelism and autovacuum settings.",
			Parameters:  noArgs,
			Execute:     t.settings,
		},
		{
			Name:        "getPostgresExtensions",
			Description: "Installed extensions and their versions.",
			Parameters:  noArgs,
			Execute:     t.queryTool(extensionsSQL),
		},
		{
			Name:        "getPlaybook",
			Description: "Full text of a playbook by name.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"name":{"type":"string","description":"Playbook name"}
			},"required":["name"]}`),
			Execute: t.getPlaybook,
		},
		{
			Name:        "listPlaybooks",
			Description: "Names and descriptions of every available playbook.",
			Parameters:  noArgs,
			Execute:     t.listPlaybooks,
		},
	}
}

const (
	instanceSQL = `SELECT version() AS version,
       current_database() AS database,
       pg_size_pretty(pg_database_size(current_database())) AS database_size,
       (SELECT age(datfrozenxid) FROM pg_database WHERE datname = current_database()) AS xid_age,
       pg_postmaster_start_time() AS started_at`

	largestTablesSQL = `SELECT schemaname AS schema, relname AS table,
       pg_size_pretty(pg_total_relation_size(relid)) AS total_size,
       n_live_tup AS live_rows
FROM pg_stat_user_tables
ORDER BY pg_total_relation_size(relid) DESC
LIMIT 20`

	columnsSQL = `SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	indexesSQL = `SELECT indexname, indexdef
FROM pg_indexes
WHERE schemaname = $1 AND tablename = $2
ORDER BY indexname`

	slowQueriesSQL = `SELECT query, calls,
       round(total_exec_time::numeric, 2) AS total_ms,
       round(mean_exec_time::numeric, 2) AS mean_ms,
       rows, temp_blks_written
FROM pg_stat_statements
ORDER BY total_exec_time DESC
LIMIT 10`

	activeQueriesSQL = `SELECT pid, usename, application_name, state, wait_event_type, wait_event,
       now() - query_start AS duration, left(query, 1000) AS query
FROM pg_stat_activity
WHERE state <> 'idle' AND pid <> pg_backend_pid()
ORDER BY query_start
LIMIT 50`

	lockWaitsSQL = `SELECT blocked.pid AS blocked_pid,
       blocked.usename AS blocked_user,
       now() - blocked.query_start AS blocked_for,
       left(blocked.query, 500) AS blocked_query,
       blocking.pid AS blocking_pid,
       blocking.usename AS blocking_user,
       blocking.state AS blocking_state,
       left(blocking.query, 500) AS blocking_query
FROM pg_stat_activity blocked
JOIN LATERAL unnest(pg_blocking_pids(blocked.pid)) AS b(pid) ON true
JOIN pg_stat_activity blocking ON blocking.pid = b.pid
ORDER BY blocked.query_start`

	vacuumStatsSQL = `SELECT schemaname AS schema, relname AS table, n_live_tup, n_dead_tup,
       CASE WHEN n_live_tup > 0 THEN round(n_dead_tup::numeric / n_live_tup, 3) END AS dead_ratio,
       last_vacuum, last_autovacuum, last_analyze, last_autoanalyze
FROM pg_stat_user_tables
ORDER BY n_dead_tup DESC
LIMIT 30`

	connectionStatsSQL = `SELECT coalesce(state, 'background') AS state, count(*) AS connections,
       current_setting('max_connections')::int AS max_connections
FROM pg_stat_activity
GROUP BY state
ORDER BY connections DESC`

	connectionGroupsSQL = `SELECT usename, application_name, client_addr::text AS client_addr,
       coalesce(state, 'background') AS state, count(*) AS connections,
       max(now() - state_change) AS longest_in_state
FROM pg_stat_activity
GROUP BY usename, application_name, client_addr, state
ORDER BY connections DESC
LIMIT 50`

	settingsSQL = `SELECT name, setting, unit, source
FROM pg_settings
WHERE name = ANY($1)
ORDER BY name`

	extensionsSQL = `SELECT extname AS name, extversion AS version FROM pg_extension ORDER BY extname`
)

func (t *postgresTools) queryTool(query string) agent.ToolFunc {
	return func(ctx context.Context, _ json.RawMessage) (string, error) {
		rows, err := queryRows(ctx, t.db, query)
		if err != nil {
			return "", err
		}
		return encode(rows)
	}
}

func (t *postgresTools) instanceInfo(ctx context.Context, _ json.RawMessage) (string, error) {
	instance, err := queryRows(ctx, t.db, instanceSQL)
	if err != nil {
		return "", err
	}
	tables, err := queryRows(ctx, t.db, largestTablesSQL)
	if err != nil {
		return "", err
	}

	out := map[string]any{"tables": tables}
	if len(instance) > 0 {
		out["instance"] = instance[0]
	}
	return encode(out)
}

func (t *postgresTools) describeTable(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Table  string `json:"table"`
		Schema string `json:"schema"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Schema == "" {
		in.Schema = "public"
	}
	if schema, table, ok := strings.Cut(in.Table, "."); ok {
		in.Schema, in.Table = schema, table
	}
	if !identPattern.MatchString(in.Table) || !identPattern.MatchString(in.Schema) {
		return "", fmt.Errorf("invalid table name %q", in.Schema+"."+in.Table)
	}

	columns, err := queryRows(ctx, t.db, columnsSQL, in.Schema, in.Table)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return fmt.Sprintf("Table %s.%s does not exist.", in.Schema, in.Table), nil
	}
	indexes, err := queryRows(ctx, t.db, indexesSQL, in.Schema, in.Table)
	if err != nil {
		return "", err
	}

	return encode(map[string]any{
		"table":   in.Schema + "." + in.Table,
		"columns": columns,
		"indexes": indexes,
	})
}

// explainQuery runs a plain EXPLAIN inside a read-only transaction that is
// always rolled back.
func (t *postgresTools) explainQuery(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	query := strings.TrimSpace(in.Query)
	query = strings.TrimRight(query, "; \n\t")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if strings.Contains(query, ";") {
		return "", errMultipleStatements
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var plan string
	if err := tx.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+query).Scan(&plan); err != nil {
		return "", fmt.Errorf("explaining query: %w", err)
	}
	return plan, nil
}

func (t *postgresTools) settings(ctx context.Context, _ json.RawMessage) (string, error) {
	rows, err := queryRows(ctx, t.db, settingsSQL, pq.Array(settingNames))
	if err != nil {
		return "", err
	}
	return encode(rows)
}

func (t *postgresTools) getPlaybook(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	p, ok := t.playbooks.Get(in.Name)
	if !ok {
		names := make([]string, 0)
		for _, pb := range t.playbooks.List() {
			names = append(names, pb.Name)
		}
		return fmt.Sprintf("Error: playbook %q not found. Available playbooks: %s", in.Name, strings.Join(names, ", ")), nil
	}
	return fmt.Sprintf("# %s\n%s\n\n%s", p.Name, p.Description, p.Content), nil
}

func (t *postgresTools) listPlaybooks(_ context.Context, _ json.RawMessage) (string, error) {
	list := t.playbooks.List()
	out := make([]map[string]string, len(list))
	for i, p := range list {
		out[i] = map[string]string{"name": p.Name, "description": p.Description}
	}
	return encode(out)
}

func decodeArgs(args json.RawMessage, out any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// queryRows scans an arbitrary result set into column maps.
func queryRows(ctx context.Context, db interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		if len(out) >= maxRows {
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Names returns the sorted tool names.
func Names(tools []agent.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}
