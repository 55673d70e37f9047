package playbooks

var builtins = []Playbook{
	{
		Name:        "generalMonitoring",
		Description: "Broad health check of a PostgreSQL instance.",
		Content: `1. Call getTablesAndInstanceInfo to learn the server version, database size and largest tables.
2. Call getConnectionsStats and compare active connections against max_connections.
3. Call getCurrentActiveQueries and note anything running longer than five minutes.
4. Call getQueriesWaitingOnLocks and report blocked sessions.
5. Call getSlowQueries and list the top offenders by total time.
6. Call getVacuumStats and flag tables with a high dead tuple ratio.
7. Summarize the findings. Treat blocked sessions, connection saturation above 90% or
   transaction wraparound risk as alerts. Treat slow queries and vacuum lag as warnings.`,
	},
	{
		Name:        "investigateSlowQueries",
		Description: "Find and explain the most expensive queries.",
		Content: `1. Call getSlowQueries to fetch the queries with the highest total and mean execution time.
2. For the three worst queries, call explainQuery with the query text.
3. Call describeTable for every table the plans scan sequentially.
4. Look for missing indexes, bad row estimates and sorts that spill to disk.
5. Recommend concrete index or query changes for each query.`,
	},
	{
		Name:        "investigateHighCpuUsage",
		Description: "Explain sustained CPU pressure on the server.",
		Content: `1. Call getCurrentActiveQueries and group the active sessions by query.
2. Call getSlowQueries and rank queries by total execution time and calls.
3. Call getConnectionsGroups to see which applications and users drive the load.
4. Call explainQuery for the heaviest queries and look for sequential scans on large tables.
5. Report which workloads consume CPU and what would reduce it.`,
	},
	{
		Name:        "investigateLowMemory",
		Description: "Check memory settings and memory-hungry workloads.",
		Content: `1. Call getPerformanceAndVacuumSettings and read shared_buffers, work_mem,
   maintenance_work_mem and effective_cache_size.
2. Call getConnectionsStats; multiply work_mem by active connections to estimate the worst case.
3. Call getSlowQueries and look for queries with large temporary file usage.
4. Recommend settings that fit the available memory.`,
	},
	{
		Name:        "investigateHighConnectionCount",
		Description: "Explain connection saturation.",
		Content: `1. Call getConnectionsStats and compare the total against max_connections.
2. Call getConnectionsGroups to break connections down by application, user and state.
3. Count sessions that are idle in transaction and report how long they have been idle.
4. Recommend pooling or timeout changes when idle sessions dominate.`,
	},
	{
		Name:        "tuneSettings",
		Description: "Review configuration against the workload.",
		Content: `1. Call getTablesAndInstanceInfo to learn the data size.
2. Call getPerformanceAndVacuumSettings.
3. Call getPostgresExtensions and check whether pg_stat_statements is installed.
4. Compare memory, checkpoint, parallelism and autovacuum settings with common guidance
   for the data size and list the changes worth making.`,
	},
	{
		Name:        "checkVacuumHealth",
		Description: "Look for vacuum lag, bloat and wraparound risk.",
		Content: `1. Call getVacuumStats and list tables by dead tuples and last autovacuum time.
2. Call getPerformanceAndVacuumSettings and read the autovacuum thresholds.
3. Check the transaction id age reported by getTablesAndInstanceInfo; anything above
   1.5 billion is an alert.
4. Recommend per-table autovacuum settings for the worst tables.`,
	},
	{
		Name:        "investigateLocks",
		Description: "Find blocking chains and long-held locks.",
		Content: `1. Call getQueriesWaitingOnLocks to list blocked and blocking sessions.
2. Call getCurrentActiveQueries to see what the blocking sessions are doing.
3. Report the blocking chain with durations and the statements involved.
4. Recommend whether the blocker should be cancelled and how to avoid the conflict.`,
	},
}
