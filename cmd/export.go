// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/db/etl"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func exportCommand(v *viper.Viper) *cobra.Command {
	var (
		format      string
		output      string
		overwrite   bool
		includeLogs bool
	)

	cmd := &cobra.Command{
		Use:   "export [errors.txt ...]",
		Short: "Load failure logs and run statistics into DuckDB or SQLite",
		Long: `Export writes the failure logs given as arguments, plus the status snapshots and queue
statistics of the run database, into a DuckDB or SQLite file for ad-hoc SQL.

Without arguments the failure log of the configured run ID is exported, if it exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			logs := args
			if len(logs) == 0 && cfg.RunID != "" {
				if path := errorsink.Path(cfg.Errors.Dir, cfg.RunID); fileExists(path) {
					logs = []string{path}
				}
			}
			boltPath := ""
			if fileExists(cfg.Database.Path) {
				boltPath = cfg.Database.Path
			}

			summary, err := etl.Run(cmd.Context(), etl.ExportConfig{
				Format:      etl.Format(format),
				OutputPath:  output,
				Overwrite:   overwrite,
				BoltPath:    boltPath,
				FailureLogs: logs,
				IncludeLogs: includeLogs,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s in %s: %d failures, %d snapshots, %d queue stats, %d logs\n",
				output, summary.Duration.Round(time.Millisecond), summary.Failures, summary.Snapshots, summary.QueueStats, summary.Logs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(etl.FormatDuckDB), "Output format: duckdb or sqlite")
	cmd.Flags().StringVarP(&output, "output", "o", "migration.duckdb", "Output database file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace the output file instead of appending")
	cmd.Flags().BoolVar(&includeLogs, "logs", false, "Also export the buffered log entries")
	return cmd
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
