// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/migration"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// migrateFlags maps config keys to the migrate flags that override them.
var migrateFlags = map[string]string{
	"mode":                     "mode",
	"source_config":            "source-config",
	"target_config":            "target-config",
	"apps":                     "apps",
	"collections":              "collections",
	"exclude_collections":      "exclude-collections",
	"create_apps":              "create-apps",
	"graph.max_depth":          "max-depth",
	"workers.entity":           "entity-workers",
	"workers.collection":       "collection-workers",
	"cache.backend":            "cache",
	"cache.path":               "cache-path",
	"superuser.username":       "superuser",
	"metrics.address":          "metrics-address",
	"database.remove_existing": "remove-existing",
}

func migrateCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run a migration",
		Long: `Migrate every selected collection of the source org to the target store.

The operation is chosen with --mode: data, graph, credentials or reput.
The superuser password for credentials mode is read from MIGRATOR_SUPERUSER_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd, migrateFlags); err != nil {
				return err
			}
			cfg, err := loadConfig(v, true, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			res, err := migration.LetsMigrate(cfg, migration.Options{})
			printMigration(cmd.OutOrStdout(), res)
			return err
		},
	}

	f := cmd.Flags()
	f.String("mode", "", "Migration mode: data, graph, credentials or reput")
	f.String("source-config", "", "Source endpoint JSON file")
	f.String("target-config", "", "Target endpoint JSON file")
	f.StringSlice("apps", nil, "Apps to migrate (default all)")
	f.StringSlice("collections", nil, "Collections to migrate (default all)")
	f.StringSlice("exclude-collections", nil, "Collections to skip")
	f.Bool("create-apps", false, "Create missing target apps")
	f.Int("max-depth", 0, "Maximum graph depth")
	f.Int("entity-workers", 0, "Number of entity workers")
	f.Int("collection-workers", 0, "Number of collection workers")
	f.String("cache", "", "Ledger backend: bolt (default), memory, badger or none")
	f.String("cache-path", "", "Directory of a badger ledger")
	f.String("superuser", "", "Superuser name for credentials mode")
	f.String("metrics-address", "", "Address of the Prometheus /metrics server")
	f.Bool("remove-existing", false, "Start from an empty run database")

	return cmd
}

func printMigration(w io.Writer, res migration.Result) {
	if res.RunID == "" {
		return
	}
	fmt.Fprintf(w, "Run:          %s (%s)\n", res.RunID, res.Mode)
	fmt.Fprintf(w, "Collections:  %d\n", res.Pipeline.Collections)
	fmt.Fprintf(w, "Processed:    %d\n", res.Pipeline.Processed)
	fmt.Fprintf(w, "Failed:       %d\n", res.Pipeline.Failed)
	if res.Pipeline.Lost > 0 {
		fmt.Fprintf(w, "Unprocessed:  %d (entity workers exited early, see the failure log)\n", res.Pipeline.Lost)
	}
	fmt.Fprintf(w, "Entities:     %d (%d bytes)\n", res.Status.Org.Count, res.Status.Org.Bytes)
	fmt.Fprintf(w, "Duration:     %s\n", res.Pipeline.Duration.Round(time.Millisecond))
	if res.ErrorLog != "" {
		fmt.Fprintf(w, "Failure log:  %s (%d records)\n", res.ErrorLog, res.Failures)
	}
	if res.ConfigFile != "" {
		fmt.Fprintf(w, "Run config:   %s\n", res.ConfigFile)
	}
	if res.LedgerDegraded {
		fmt.Fprintln(w, "Warning: the ledger degraded during the run")
	}
	if res.Suspended {
		fmt.Fprintln(w, "Suspended: rerun with the same run database to continue")
	}
}
