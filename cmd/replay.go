// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/migration"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func replayCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [errors.txt]",
		Short: "Re-run the configured operation for every entity of a failure log",
		Long: `Replay reads a failure log written by a previous run and re-runs the configured
operation for each entity it holds. Entities that fail again are written to the failure
log of the current run ID.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd, map[string]string{"mode": "mode"}); err != nil {
				return err
			}
			cfg, err := loadConfig(v, true, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			done := make(chan struct{})
			defer close(done)
			go migration.HandleShutdownSignals(done, cancel)

			res, err := migration.Replay(ctx, cfg, migration.Options{}, args[0])
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Replayed %s as run %s in %s\n", res.Source, res.RunID, res.Duration.Round(time.Millisecond))
			fmt.Fprintf(w, "Replayed: %d, succeeded: %d, failed: %d, skipped: %d\n",
				res.Replayed, res.Succeeded, res.Failed, res.Skipped)
			if res.ErrorLog != "" {
				fmt.Fprintf(w, "Failure log: %s\n", res.ErrorLog)
			}
			return err
		},
	}

	cmd.Flags().String("mode", "", "Migration mode: data, graph, credentials or reput")
	return cmd
}
