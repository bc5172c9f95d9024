// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/Project-Sylos/Graph-Migrator/pkg/queue"
	"golang.org/x/sync/errgroup"
)

// ReplayResult summarizes a replay of a failure log.
type ReplayResult struct {
	RunID     string
	Source    string // the failure log that was replayed
	Replayed  int64
	Succeeded int64
	Failed    int64
	Skipped   int64  // records without an entity
	ErrorLog  string // failures of the replay itself
	Duration  time.Duration
}

// Replay re-runs the configured operation on every entity of a failure log. Entities that fail
// again are written to the failure log of cfg.RunID (suffixed "-replay" when that is the log
// being read).
func Replay(ctx context.Context, cfg *configs.Config, opts Options, path string) (ReplayResult, error) {
	start := time.Now()
	res := ReplayResult{Source: path}

	runID := cfg.RunID
	if samePath(errorsink.Path(cfg.Errors.Dir, runID), path) {
		runID += "-replay"
	}
	res.RunID = runID

	env, err := setup(ctx, cfg, opts)
	if err != nil {
		return res, err
	}
	defer env.close()

	sink, err := openSink(cfg, runID)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logMigration("warning", fmt.Sprintf("Failed to close error log: %v", err))
		}
	}()
	res.ErrorLog = sink.Path()

	q := cfg.Queue
	entities := queue.NewQueue[queue.EntityMessage](queue.QueueEntities, q.Capacity, q.HighWatermark, q.LowWatermark)
	failures := make(chan errorsink.Failure, cfg.Workers.Entity*2)
	sinkDone := make(chan error, 1)
	go func() {
		sinkDone <- sink.Run(context.WithoutCancel(ctx), failures)
	}()

	logMigration("info", fmt.Sprintf("Replaying %s in %s mode (run %s)", path, cfg.Mode, runID))

	var replayed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer entities.Close()
		return errorsink.ReadFailures(path, func(f errorsink.Failure) error {
			if f.Entity == nil {
				skipped.Add(1)
				return nil
			}
			replayed.Add(1)
			return entities.Push(gctx, queue.EntityMessage{App: f.App, Collection: f.Collection, Entity: f.Entity})
		})
	})

	workers := make([]*queue.EntityWorker, cfg.Workers.Entity)
	for i := range workers {
		w := queue.NewEntityWorker(queue.EntityWorkerConfig{
			ID:        fmt.Sprintf("replay-worker-%d", i),
			RunID:     runID,
			Operation: env.operation,
			In:        entities,
			Failures:  failures,
			Timing:    queue.WorkerTiming{IdleTimeout: cfg.Timing.EntityIdleTimeout, IdleLimit: cfg.Timing.EntityIdleLimit},
			Metrics:   env.queueMetrics,
		})
		workers[i] = w
		g.Go(func() error { return w.Run(gctx) })
	}

	runErr := g.Wait()
	close(failures)
	sinkErr := <-sinkDone

	res.Replayed = replayed.Load()
	res.Skipped = skipped.Load()
	for _, w := range workers {
		res.Failed += w.Failed()
		res.Succeeded += w.Processed() - w.Failed()
	}
	res.Duration = time.Since(start)

	logMigration("info", fmt.Sprintf("Replay of %s finished in %s: %d replayed, %d succeeded, %d failed, %d skipped",
		path, res.Duration.Round(time.Millisecond), res.Replayed, res.Succeeded, res.Failed, res.Skipped))

	return res, errors.Join(runErr, sinkErr)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
