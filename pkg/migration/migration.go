// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package migration wires a configured run together: run database, log service, ledger,
// REST clients, engine, metrics and the worker pipeline.
//
// The configuration must be resolved (configs.Config.Resolve) before it is passed in.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/queue"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
)

// Result captures the outcome of a migration run.
type Result struct {
	RunID          string
	Mode           configs.Mode
	Pipeline       queue.Result
	Status         status.Snapshot
	Failures       int    // records written to the failure log
	ErrorLog       string // failure log path
	ConfigFile     string // saved run configuration, empty if it could not be written
	LedgerDegraded bool
	Suspended      bool // stopped by shutdown before the pipeline drained
}

// MigrationController provides programmatic control over a running migration.
type MigrationController struct {
	shutdownCancel context.CancelFunc
	done           chan struct{}
	result         Result
	err            error
}

// Shutdown cancels the run. Workers stop, the aggregator and error sink flush, and the
// run reports Suspended. Safe to call more than once, or after the run has finished.
func (mc *MigrationController) Shutdown() {
	mc.shutdownCancel()
}

// Done returns a channel that is closed when the migration completes or is shut down.
func (mc *MigrationController) Done() <-chan struct{} {
	return mc.done
}

// Wait blocks until the migration completes or is shut down.
func (mc *MigrationController) Wait() (Result, error) {
	<-mc.done
	return mc.result, mc.err
}

// StartMigration starts a migration asynchronously.
//
//	controller := migration.StartMigration(cfg, migration.Options{})
//	defer controller.Shutdown()
//	result, err := controller.Wait()
func StartMigration(cfg *configs.Config, opts Options) *MigrationController {
	parent := opts.ShutdownContext
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	mc := &MigrationController{shutdownCancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(mc.done)
		defer cancel()
		mc.result, mc.err = letsMigrateWithContext(ctx, cfg, opts)
	}()
	return mc
}

// LetsMigrate runs a migration to completion. Without opts.ShutdownContext it installs the
// SIGINT/SIGTERM handler for the duration of the run.
func LetsMigrate(cfg *configs.Config, opts Options) (Result, error) {
	ctx := opts.ShutdownContext
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		defer close(done)
		go HandleShutdownSignals(done, cancel)
	}
	return letsMigrateWithContext(ctx, cfg, opts)
}

func letsMigrateWithContext(ctx context.Context, cfg *configs.Config, opts Options) (Result, error) {
	start := time.Now()
	env, err := setup(ctx, cfg, opts)
	if err != nil {
		return Result{RunID: cfg.RunID, Mode: cfg.Mode}, err
	}
	defer env.close()

	res, err := env.runPipeline(ctx)
	if err != nil {
		logMigration("error", fmt.Sprintf("Run %s failed after %s: %v", cfg.RunID, time.Since(start).Round(time.Second), err))
		return res, err
	}

	logMigration("info", fmt.Sprintf("Run %s finished in %s: %d entities, %d bytes, %d failed (see %s)",
		cfg.RunID, time.Since(start).Round(time.Second), res.Status.Org.Count, res.Status.Org.Bytes, res.Failures, res.ErrorLog))
	if res.LedgerDegraded {
		logMigration("warning", "The ledger degraded during the run; visited and modified state was not fully recorded")
	}
	return res, nil
}

func logMigration(level, message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "migration", "", "migration")
	}
}
