// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migration

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ShutdownGrace is how long a run may take to wind down after the first signal.
const ShutdownGrace = 10 * time.Second

// HandleShutdownSignals cancels the run on SIGINT or SIGTERM. A second signal, or a run that
// has not finished ShutdownGrace after the first, exits the process. Returns when done closes.
// Run it in its own goroutine.
func HandleShutdownSignals(done <-chan struct{}, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		fmt.Fprintf(os.Stderr, "\nShutdown signal received (%v). Stopping workers, press Ctrl+C again to force exit.\n", sig)
		logMigration("warning", fmt.Sprintf("Shutdown signal received (%v)", sig))
		cancel()
	case <-done:
		return
	}

	select {
	case <-sigChan:
		fmt.Fprintln(os.Stderr, "\nSecond interrupt received. Forcing immediate exit.")
		os.Exit(1)
	case <-time.After(ShutdownGrace):
		fmt.Fprintf(os.Stderr, "\nShutdown did not complete within %s. Forcing exit.\n", ShutdownGrace)
		os.Exit(1)
	case <-done:
	}
}
