// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package etl loads the side state of a migration run (failure logs, status snapshots,
// queue statistics and buffered logs) into DuckDB or SQLite for offline audit.
package etl

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
)

// Format selects the output database.
type Format string

const (
	FormatDuckDB Format = "duckdb"
	FormatSQLite Format = "sqlite"
)

// ErrUnknownFormat is returned for an unsupported Format.
var ErrUnknownFormat = errors.New("unknown export format")

// RowAppender appends rows to one table. *duckdb.Appender satisfies it.
type RowAppender interface {
	AppendRow(values ...driver.Value) error
	Close() error
}

// Target is an output database.
type Target interface {
	DB() *sql.DB
	Exec(ctx context.Context, query string) error
	Appender(ctx context.Context, table string, columns int) (RowAppender, error)
	Close() error
}

// ExportConfig configures an export.
type ExportConfig struct {
	// Format is the output database kind. Defaults to DuckDB.
	Format Format
	// OutputPath is the database file (created if it doesn't exist).
	OutputPath string
	// Overwrite removes an existing output file first. Otherwise rows are appended.
	Overwrite bool
	// BoltDB is an open side-state database. If nil, BoltPath is opened (and closed again).
	// With neither set, only failure logs are exported.
	BoltDB   *db.DB
	BoltPath string
	// FailureLogs are failure log files written by the error sink.
	FailureLogs []string
	// IncludeLogs also exports the buffered log entries.
	IncludeLogs bool
	// OnExportStart is an optional callback called before any table is written.
	OnExportStart func() error
	// OnExportComplete is an optional callback called after a successful export.
	OnExportComplete func() error
}

// Summary counts the exported rows per table.
type Summary struct {
	Failures   int
	Snapshots  int
	QueueStats int
	Logs       int
	Duration   time.Duration
}

// Run exports the configured sources into cfg.OutputPath.
func Run(ctx context.Context, cfg ExportConfig) (Summary, error) {
	start := time.Now()
	var summary Summary

	if cfg.OutputPath == "" {
		return summary, fmt.Errorf("OutputPath is required")
	}
	if cfg.Format == "" {
		cfg.Format = FormatDuckDB
	}

	boltDB := cfg.BoltDB
	if boltDB == nil && cfg.BoltPath != "" {
		opened, err := db.Open(cfg.BoltPath)
		if err != nil {
			return summary, fmt.Errorf("failed to open side-state database: %w", err)
		}
		defer func() {
			if err := opened.Close(); err != nil {
				logETL("warning", fmt.Sprintf("Failed to close %s: %v", cfg.BoltPath, err))
			}
		}()
		boltDB = opened
	}

	if cfg.Overwrite {
		if err := os.Remove(cfg.OutputPath); err != nil && !os.IsNotExist(err) {
			return summary, fmt.Errorf("failed to remove existing output file: %w", err)
		}
	}
	if dir := filepath.Dir(cfg.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	target, err := Open(ctx, cfg.Format, cfg.OutputPath)
	if err != nil {
		return summary, err
	}
	defer target.Close()

	if cfg.OnExportStart != nil {
		if err := cfg.OnExportStart(); err != nil {
			return summary, fmt.Errorf("failed to update status on export start: %w", err)
		}
	}

	if err := createTables(ctx, target); err != nil {
		return summary, err
	}

	for _, path := range cfg.FailureLogs {
		n, err := exportFailures(ctx, target, path)
		summary.Failures += n
		if err != nil {
			return summary, err
		}
	}

	if boltDB != nil {
		if summary.Snapshots, err = exportSnapshots(ctx, target, boltDB); err != nil {
			return summary, err
		}
		if summary.QueueStats, err = exportQueueStats(ctx, target, boltDB); err != nil {
			return summary, err
		}
		if cfg.IncludeLogs {
			if summary.Logs, err = exportLogs(ctx, target, boltDB); err != nil {
				return summary, err
			}
		}
	}

	if err := createIndexes(ctx, target); err != nil {
		return summary, err
	}

	if cfg.OnExportComplete != nil {
		if err := cfg.OnExportComplete(); err != nil {
			return summary, fmt.Errorf("failed to update status on export complete: %w", err)
		}
	}

	summary.Duration = time.Since(start)
	logETL("info", fmt.Sprintf("Exported %d failures, %d snapshots, %d queue stats and %d logs to %s in %s",
		summary.Failures, summary.Snapshots, summary.QueueStats, summary.Logs, cfg.OutputPath,
		summary.Duration.Round(time.Millisecond)))
	return summary, nil
}

// Open opens an output database of the given format.
func Open(ctx context.Context, format Format, path string) (Target, error) {
	switch format {
	case FormatDuckDB:
		return OpenDuckDB(ctx, path)
	case FormatSQLite:
		return OpenSQLite(ctx, path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func createTables(ctx context.Context, target Target) error {
	for _, t := range tables {
		if err := target.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}
	return nil
}

func createIndexes(ctx context.Context, target Target) error {
	for _, ddl := range indexes {
		if err := target.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// appendAll opens an appender on table, lets fill add rows, and always closes the appender.
func appendAll(ctx context.Context, target Target, table string, fill func(RowAppender) (int, error)) (int, error) {
	appender, err := target.Appender(ctx, table, columnsOf(table))
	if err != nil {
		return 0, err
	}
	n, err := fill(appender)
	if closeErr := appender.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to flush %s: %w", table, closeErr)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func exportFailures(ctx context.Context, target Target, path string) (int, error) {
	source := filepath.Base(path)
	return appendAll(ctx, target, TableFailures, func(a RowAppender) (int, error) {
		n := 0
		err := errorsink.ReadFailures(path, func(f errorsink.Failure) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var raw driver.Value
			if f.Entity != nil {
				data, err := json.Marshal(f.Entity)
				if err != nil {
					return fmt.Errorf("failed to encode entity %s: %w", f.UUID, err)
				}
				raw = string(data)
			}
			if err := a.AppendRow(f.Time.UTC(), f.RunID, f.App, f.Collection, f.UUID, f.Type, f.Reason, source, raw); err != nil {
				return fmt.Errorf("failed to append failure %s: %w", f.UUID, err)
			}
			n++
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("failed to export %s: %w", path, err)
		}
		return n, nil
	})
}

// SnapshotLevel splits a status snapshot key into its rollup level and name,
// e.g. "collection:app/users" gives ("collection", "app/users").
func SnapshotLevel(key string) (level, name string) {
	for _, prefix := range []string{status.KeyCollection, status.KeyApp, status.KeyOrg} {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			return strings.TrimSuffix(prefix, ":"), rest
		}
	}
	return "unknown", key
}

func exportSnapshots(ctx context.Context, target Target, boltDB *db.DB) (int, error) {
	snapshots, err := boltDB.GetAllStatusSnapshots()
	if err != nil {
		return 0, err
	}
	return appendAll(ctx, target, TableStatus, func(a RowAppender) (int, error) {
		n := 0
		for _, key := range sortedKeys(snapshots) {
			data := snapshots[key]
			var s status.CollectionStatus
			if err := json.Unmarshal(data, &s); err != nil {
				logETL("warning", fmt.Sprintf("Skipping malformed status snapshot %s: %v", key, err))
				continue
			}
			level, name := SnapshotLevel(key)
			app, collection := s.App, s.Collection
			if level == "app" && app == "" {
				app = name
			}
			err := a.AppendRow(key, level, app, collection, s.Count, s.Bytes,
				s.MinCreated, s.MaxCreated, s.MinModified, s.MaxModified,
				nullTime(s.IterationStarted), nullTime(s.IterationFinished), string(data))
			if err != nil {
				return n, fmt.Errorf("failed to append snapshot %s: %w", key, err)
			}
			n++
		}
		return n, nil
	})
}

func exportQueueStats(ctx context.Context, target Target, boltDB *db.DB) (int, error) {
	stats, err := boltDB.GetAllQueueStats()
	if err != nil {
		return 0, err
	}
	return appendAll(ctx, target, TableQueueStats, func(a RowAppender) (int, error) {
		n := 0
		for _, key := range sortedKeys(stats) {
			if err := a.AppendRow(key, string(stats[key])); err != nil {
				return n, fmt.Errorf("failed to append queue stats %s: %w", key, err)
			}
			n++
		}
		return n, nil
	})
}

func exportLogs(ctx context.Context, target Target, boltDB *db.DB) (int, error) {
	counts, err := boltDB.CountLogs()
	if err != nil {
		return 0, err
	}
	return appendAll(ctx, target, TableLogs, func(a RowAppender) (int, error) {
		n := 0
		for _, level := range sortedKeys(counts) {
			err := boltDB.ReadLogs(level, func(e *db.LogEntry) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := a.AppendRow(e.ID, e.RunID, e.Timestamp, e.Level, e.Entity, e.EntityID, e.Message, e.Queue); err != nil {
					return fmt.Errorf("failed to append log %s: %w", e.ID, err)
				}
				n++
				return nil
			})
			if err != nil {
				return n, err
			}
		}
		return n, nil
	})
}

func nullTime(t time.Time) driver.Value {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func logETL(level, message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "etl", "", "etl")
	}
}
