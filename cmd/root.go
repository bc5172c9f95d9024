// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package cmd is the command line interface of the migrator.
package cmd

import (
	"github.com/spf13/cobra"
)

// RootCommand creates the root command with its subcommands. Each call gets its own viper
// instance, so commands can be built more than once (in tests).
func RootCommand() *cobra.Command {
	v := newViper()

	rootCmd := &cobra.Command{
		Use:          "migrator",
		Short:        "Entity and graph migration between two Usergrid stores",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("org", "", "Source org")
	rootCmd.PersistentFlags().String("run-id", "", "Run ID (generated when empty)")
	rootCmd.PersistentFlags().String("db", "", "Path to the run database")
	rootCmd.PersistentFlags().String("errors-dir", "", "Directory of failure logs")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warning, error, critical")
	rootCmd.PersistentFlags().String("log-address", "", "UDP address of a log listener")

	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
	_ = v.BindPFlag("run_id", rootCmd.PersistentFlags().Lookup("run-id"))
	_ = v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("errors.dir", rootCmd.PersistentFlags().Lookup("errors-dir"))
	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.address", rootCmd.PersistentFlags().Lookup("log-address"))

	rootCmd.AddCommand(
		migrateCommand(v),
		replayCommand(v),
		inspectCommand(v),
		exportCommand(v),
		listenCommand(v),
	)
	return rootCmd
}

// Execute runs the root command against os.Args.
func Execute() error {
	return RootCommand().Execute()
}
