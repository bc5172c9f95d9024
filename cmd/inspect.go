// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/Project-Sylos/Graph-Migrator/pkg/migration"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func inspectCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the status, queue, log and bucket statistics of a run database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			dbPath := cfg.Database.Path
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("database file does not exist: %s", dbPath)
			}
			boltDB, err := db.Open(dbPath)
			if err != nil {
				return fmt.Errorf("error opening database: %w", err)
			}
			defer boltDB.Close()

			run, err := migration.InspectRun(boltDB)
			if err != nil {
				return err
			}
			if cfg.RunID != "" {
				if run.Logs, err = boltDB.CountRunLogs(cfg.RunID); err != nil {
					return fmt.Errorf("failed to count logs of run %s: %w", cfg.RunID, err)
				}
			}
			printReport(cmd.OutOrStdout(), run, dbPath, cfg.RunID)
			return nil
		},
	}
}

// printReport writes the run report. With runID, the log counts are that run's only.
func printReport(w io.Writer, run migration.RunStatus, dbPath, runID string) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Run database: %s\n", dbPath)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "\nORGS:")
	printStatuses(w, run.Orgs)
	fmt.Fprintln(w, "\nAPPS:")
	printStatuses(w, run.Apps)
	fmt.Fprintln(w, "\nCOLLECTIONS:")
	printStatuses(w, run.Collections)

	fmt.Fprintln(w, "\nQUEUES:")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, name := range sortedKeys(run.Queues) {
		q := run.Queues[name]
		fmt.Fprintf(w, "%-12s %-8s depth=%d/%d pushed=%d popped=%d rate=%.1f/s\n",
			name, q.State, q.Depth, q.Capacity, q.Pushed, q.Popped, q.PerSecond)
	}

	if runID != "" {
		fmt.Fprintf(w, "\nLOGS (run %s):\n", runID)
	} else {
		fmt.Fprintln(w, "\nLOGS:")
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, level := range sortedKeys(run.Logs) {
		fmt.Fprintf(w, "%-10s %d\n", level, run.Logs[level])
	}

	fmt.Fprintln(w, "\nBUCKETS:")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, path := range sortedKeys(run.Buckets) {
		fmt.Fprintf(w, "%-40s %d\n", path, run.Buckets[path])
	}

	fmt.Fprintln(w, "\nCOMPLETION STATUS:")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	switch unfinished := run.Unfinished(); {
	case run.IsEmpty():
		fmt.Fprintln(w, "✗ No collection was reported")
	case len(unfinished) == 0:
		fmt.Fprintf(w, "✓ COMPLETE (%d collections finished)\n", len(run.Collections))
	default:
		fmt.Fprintf(w, "✗ INCOMPLETE\n")
		for _, key := range unfinished {
			fmt.Fprintf(w, "  - %s\n", key)
		}
	}
}

func printStatuses(w io.Writer, statuses map[string]status.CollectionStatus) {
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, name := range sortedKeys(statuses) {
		s := statuses[name]
		state := "running"
		if s.Finished() {
			state = "finished"
		}
		fmt.Fprintf(w, "%-40s %10d entities %14d bytes  %-8s modified %s .. %s\n",
			name, s.Count, s.Bytes, state, millis(s.MinModified), millis(s.MaxModified))
	}
}

func millis(ms int64) string {
	if ms == 0 || ms == status.MinSentinel || ms == status.MaxSentinel {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
