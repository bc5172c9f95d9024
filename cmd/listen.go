// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DefaultListenAddress is where the listener binds when neither --address nor logging.address
// is set.
const DefaultListenAddress = "127.0.0.1:1997"

func listenCommand(v *viper.Viper) *cobra.Command {
	var address, level string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print the log packets a running migration sends over UDP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if address == "" {
				address = cfg.Logging.Address
			}
			if address == "" {
				address = DefaultListenAddress
			}
			if level == "" {
				level = cfg.Logging.Level
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return logservice.RunListener(ctx, address, level, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "UDP address to listen on (default logging.address or "+DefaultListenAddress+")")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level to print (default logging.level)")
	return cmd
}
