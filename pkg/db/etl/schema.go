// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package etl

// Table names.
const (
	TableFailures   = "failures"
	TableStatus     = "status"
	TableQueueStats = "queue_stats"
	TableLogs       = "logs"
)

// table is one exported table. The DDL is valid for both DuckDB and SQLite.
type table struct {
	name    string
	columns int
	ddl     string
}

var tables = []table{
	{
		name:    TableFailures,
		columns: 9,
		ddl: `CREATE TABLE IF NOT EXISTS failures (
			failed_at TIMESTAMP,
			run_id VARCHAR,
			app VARCHAR,
			collection VARCHAR,
			uuid VARCHAR,
			entity_type VARCHAR,
			reason VARCHAR,
			source_file VARCHAR,
			entity VARCHAR
		)`,
	},
	{
		name:    TableStatus,
		columns: 13,
		ddl: `CREATE TABLE IF NOT EXISTS status (
			snapshot_key VARCHAR,
			level VARCHAR,
			app VARCHAR,
			collection VARCHAR,
			count BIGINT,
			bytes BIGINT,
			min_created BIGINT,
			max_created BIGINT,
			min_modified BIGINT,
			max_modified BIGINT,
			iteration_started TIMESTAMP,
			iteration_finished TIMESTAMP,
			raw VARCHAR
		)`,
	},
	{
		name:    TableQueueStats,
		columns: 2,
		ddl: `CREATE TABLE IF NOT EXISTS queue_stats (
			queue_key VARCHAR,
			metrics_json VARCHAR
		)`,
	},
	{
		name:    TableLogs,
		columns: 8,
		ddl: `CREATE TABLE IF NOT EXISTS logs (
			id VARCHAR,
			run_id VARCHAR,
			timestamp VARCHAR,
			level VARCHAR,
			entity VARCHAR,
			entity_id VARCHAR,
			message VARCHAR,
			queue VARCHAR
		)`,
	},
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_failures_collection ON failures(app, collection)",
	"CREATE INDEX IF NOT EXISTS idx_failures_uuid ON failures(uuid)",
	"CREATE INDEX IF NOT EXISTS idx_status_level ON status(level)",
	"CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level)",
	"CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)",
}

func columnsOf(name string) int {
	for _, t := range tables {
		if t.name == name {
			return t.columns
		}
	}
	return 0
}
