// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/engine"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

const throughputEvery = 1000

// EntityWorker applies the run's operation to queued entities.
type EntityWorker struct {
	id       string
	runID    string
	op       engine.Operation
	in       *Queue[EntityMessage]
	failures chan<- errorsink.Failure
	timing   WorkerTiming
	metrics  *Metrics

	processed atomic.Int64
	failed    atomic.Int64
}

// EntityWorkerConfig wires an EntityWorker.
type EntityWorkerConfig struct {
	ID        string
	RunID     string
	Operation engine.Operation
	In        *Queue[EntityMessage]
	Failures  chan<- errorsink.Failure // optional
	Timing    WorkerTiming
	Metrics   *Metrics
}

// NewEntityWorker creates an entity worker.
func NewEntityWorker(cfg EntityWorkerConfig) *EntityWorker {
	return &EntityWorker{
		id:       cfg.ID,
		runID:    cfg.RunID,
		op:       cfg.Operation,
		in:       cfg.In,
		failures: cfg.Failures,
		timing:   cfg.Timing,
		metrics:  cfg.Metrics,
	}
}

// Processed returns how many messages the worker handled.
func (w *EntityWorker) Processed() int64 {
	return w.processed.Load()
}

// Failed returns how many messages failed.
func (w *EntityWorker) Failed() int64 {
	return w.failed.Load()
}

// Run consumes messages until the queue is closed and drained, IdleLimit consecutive idle
// timeouts pass, or ctx ends.
func (w *EntityWorker) Run(ctx context.Context) error {
	idle := 0
	start := time.Now()
	for {
		msg, res := w.in.Pop(ctx, w.timing.IdleTimeout)
		switch res {
		case Canceled:
			return ctx.Err()
		case Closed:
			w.log("info", fmt.Sprintf("Entity queue closed, exiting after %d processed (%d failed)", w.Processed(), w.Failed()), "")
			return nil
		case TimedOut:
			idle++
			w.log("debug", fmt.Sprintf("No entity message (%d/%d)", idle, w.timing.IdleLimit), "")
			if idle >= w.timing.IdleLimit {
				w.log("warning", fmt.Sprintf("Exiting after idle limit, %d processed (%d failed)", w.Processed(), w.Failed()), "")
				return nil
			}
			continue
		}

		idle = 0
		began := time.Now()
		ok, reason := w.invoke(ctx, msg)
		w.metrics.recordOperation(msg.App, msg.Collection, ok, time.Since(began).Seconds())

		n := w.processed.Add(1)
		if !ok {
			w.failed.Add(1)
			if err := w.fail(ctx, msg, reason); err != nil {
				return err
			}
		}
		if n%throughputEvery == 0 {
			rate := float64(n) / time.Since(start).Seconds()
			w.log("info", fmt.Sprintf("Processed %d entities (%d failed), %.1f/s", n, w.Failed(), rate), "")
		}
	}
}

// invoke runs the operation, turning a panic into a failure.
func (w *EntityWorker) invoke(ctx context.Context, msg EntityMessage) (ok bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.recordPanic()
			w.log("critical", fmt.Sprintf("Operation panicked on %s/%s/%s: %v\n%s",
				msg.App, msg.Collection, msg.Entity.UUID, r, debug.Stack()), msg.Entity.UUID)
			ok, reason = false, fmt.Sprintf("panic: %v", r)
		}
	}()
	if w.op(ctx, msg.App, msg.Collection, msg.Entity) {
		return true, ""
	}
	return false, "operation failed"
}

func (w *EntityWorker) fail(ctx context.Context, msg EntityMessage, reason string) error {
	w.log("error", fmt.Sprintf("Failed %s/%s/%s: %s", msg.App, msg.Collection, msg.Entity.UUID, reason), msg.Entity.UUID)
	if w.failures == nil {
		return nil
	}
	select {
	case w.failures <- errorsink.NewFailure(w.runID, msg.App, msg.Collection, msg.Entity, reason):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *EntityWorker) log(level, message, entityID string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, w.id, entityID, QueueEntities)
	}
}
