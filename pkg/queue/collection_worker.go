// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// Source pages the entities of a collection. *engine.Engine satisfies it.
type Source interface {
	QueryURL(app, collection string) string
	Query(queryURL string) usergrid.EntityIterator
}

// WorkerTiming holds the idle and pacing settings shared by workers.
type WorkerTiming struct {
	IdleTimeout time.Duration
	IdleLimit   int
	EntitySleep time.Duration // after each queued entity; collection workers only
}

// CollectionWorker pages collections into the entity queue.
type CollectionWorker struct {
	id          string
	source      Source
	in          *Queue[CollectionTask]
	out         *Queue[EntityMessage]
	updates     chan<- status.CollectionStatus
	timing      WorkerTiming
	minModified int64
	maxModified int64
	metrics     *Metrics
	now         func() time.Time

	finished atomic.Int64
}

// CollectionWorkerConfig wires a CollectionWorker.
type CollectionWorkerConfig struct {
	ID          string
	Source      Source
	In          *Queue[CollectionTask]
	Out         *Queue[EntityMessage]
	Updates     chan<- status.CollectionStatus // optional
	Timing      WorkerTiming
	MinModified int64
	MaxModified int64
	Metrics     *Metrics
}

// NewCollectionWorker creates a collection worker.
func NewCollectionWorker(cfg CollectionWorkerConfig) *CollectionWorker {
	return &CollectionWorker{
		id:          cfg.ID,
		source:      cfg.Source,
		in:          cfg.In,
		out:         cfg.Out,
		updates:     cfg.Updates,
		timing:      cfg.Timing,
		minModified: cfg.MinModified,
		maxModified: cfg.MaxModified,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

// Processed returns how many collections this worker paged to the end.
func (w *CollectionWorker) Processed() int64 {
	return w.finished.Load()
}

// Run processes tasks until the queue is closed and drained, IdleLimit consecutive idle
// timeouts pass, or ctx ends.
func (w *CollectionWorker) Run(ctx context.Context) error {
	idle := 0
	for {
		task, res := w.in.Pop(ctx, w.timing.IdleTimeout)
		switch res {
		case Canceled:
			return ctx.Err()
		case Closed:
			w.log("debug", "Collection queue closed, exiting", "")
			return nil
		case TimedOut:
			idle++
			w.log("debug", fmt.Sprintf("No collection task (%d/%d)", idle, w.timing.IdleLimit), "")
			if idle >= w.timing.IdleLimit {
				w.log("warning", "Exiting after idle limit", "")
				return nil
			}
			continue
		}

		idle = 0
		if err := w.process(ctx, task); err != nil {
			return err
		}
	}
}

// process pages one collection. Only cancellation is returned as an error; a query that gives
// up is logged and the collection is reported with what was read.
func (w *CollectionWorker) process(ctx context.Context, task CollectionTask) error {
	st := status.Start(task.App, task.Collection, w.now())
	queryURL := w.source.QueryURL(task.App, task.Collection)
	w.log("info", "Starting collection "+task.String()+" at "+usergrid.Redact(queryURL), task.String())

	it := w.source.Query(queryURL)
	for it.Next(ctx) {
		e := it.Entity()
		if e.Modified < w.minModified || e.Modified > w.maxModified {
			continue
		}

		msg := EntityMessage{App: task.App, Collection: task.Collection, Entity: e}
		if err := w.out.Push(ctx, msg); err != nil {
			return err
		}
		w.metrics.recordEnumerated(task.App, task.Collection)

		st.Observe(e)
		if st.Count%status.SnapshotEvery == 0 {
			if err := w.report(ctx, st); err != nil {
				return err
			}
			w.log("info", fmt.Sprintf("Collection %s: %d entities queued", task, st.Count), task.String())
		}

		if err := usergrid.Sleep(ctx, w.timing.EntitySleep); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log("error", fmt.Sprintf("Query of collection %s stopped: %v", task, err), task.String())
	}

	st.Finish(w.now())
	w.finished.Add(1)
	w.metrics.recordCollectionFinished()
	w.log("info", fmt.Sprintf("Finished collection %s: %d entities in %s", task, st.Count,
		st.IterationFinished.Sub(st.IterationStarted).Round(time.Millisecond)), task.String())
	return w.report(ctx, st)
}

func (w *CollectionWorker) report(ctx context.Context, st status.CollectionStatus) error {
	if w.updates == nil {
		return nil
	}
	select {
	case w.updates <- st:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *CollectionWorker) log(level, message, entityID string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, w.id, entityID, QueueCollections)
	}
}
