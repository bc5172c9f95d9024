// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/engine"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/queue/worker"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
	"golang.org/x/sync/errgroup"
)

// ErrNoOperation is returned when a pipeline is built without an operation.
var ErrNoOperation = errors.New("pipeline requires an operation")

// Options wires a Pipeline. Aggregator, Sink, Metrics and Store are optional.
type Options struct {
	Catalog    Catalog
	Source     Source
	Operation  engine.Operation
	Aggregator *status.Aggregator
	Sink       *errorsink.Sink
	Metrics    *Metrics
	Store      StatsStore    // queue stats snapshots
	ObserveAt  time.Duration // observer interval; 0 means 1s
}

// Result summarizes a finished run.
type Result struct {
	Collections int
	Processed   int64
	Failed      int64
	Lost        int64 // queued after every entity worker exited; written to the failure log
	Duration    time.Duration
}

// ReasonUnprocessed is the failure reason of entities left queued when the entity workers
// idle-exit before the collection workers finish.
const ReasonUnprocessed = "not processed: entity workers exited"

// Pipeline is one migration run: enumerator, collection workers, entity workers, status
// aggregator and error sink.
type Pipeline struct {
	cfg  *configs.Config
	opts Options

	collections *Queue[CollectionTask]
	entities    *Queue[EntityMessage]
	observer    *Observer
}

// New builds a pipeline sized by cfg.
func New(cfg *configs.Config, opts Options) (*Pipeline, error) {
	if opts.Operation == nil {
		return nil, ErrNoOperation
	}
	if opts.Catalog == nil || opts.Source == nil {
		return nil, errors.New("pipeline requires a catalog and a source")
	}
	q := cfg.Queue
	p := &Pipeline{
		cfg:         cfg,
		opts:        opts,
		collections: NewQueue[CollectionTask](QueueCollections, q.Capacity, q.HighWatermark, q.LowWatermark),
		entities:    NewQueue[EntityMessage](QueueEntities, q.Capacity, q.HighWatermark, q.LowWatermark),
	}
	p.observer = NewObserver(opts.Store, opts.Metrics, opts.ObserveAt)
	p.observer.Register(p.collections)
	p.observer.Register(p.entities)
	return p, nil
}

// Observer returns the queue observer.
func (p *Pipeline) Observer() *Observer {
	return p.observer
}

// Run executes the pipeline to completion. The first worker error cancels the rest; the
// aggregator and the sink always finish with a final snapshot and flush.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	t := p.cfg.Timing

	updates := make(chan status.CollectionStatus, p.cfg.Workers.Collection*2)
	failures := make(chan errorsink.Failure, p.cfg.Workers.Entity*2)

	// Sinks outlive the workers so they can drain what the workers sent.
	sinks, sinkCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	sinks.Go(func() error {
		if p.opts.Aggregator == nil {
			for range updates {
			}
			return nil
		}
		return p.opts.Aggregator.Run(sinkCtx, updates)
	})
	sinks.Go(func() error {
		if p.opts.Sink == nil {
			for range failures {
			}
			return nil
		}
		return p.opts.Sink.Run(sinkCtx, failures)
	})

	p.observer.Start()
	defer p.observer.Stop()

	g, gctx := errgroup.WithContext(ctx)

	// feed stops the enumerator and the collection workers once nothing consumes entities.
	feed, stopFeed := context.WithCancel(gctx)
	defer stopFeed()
	var starved atomic.Bool
	quiet := func(err error) error {
		if starved.Load() && errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil
		}
		return err
	}

	enumerator := NewEnumerator(p.opts.Catalog, p.collections)
	g.Go(func() error {
		return quiet(enumerator.Run(feed))
	})

	collectionWorkers, cctx := errgroup.WithContext(feed)
	collectors := make([]worker.Worker, p.cfg.Workers.Collection)
	for i := range collectors {
		collectors[i] = NewCollectionWorker(CollectionWorkerConfig{
			ID:          fmt.Sprintf("collection-worker-%d", i),
			Source:      p.opts.Source,
			In:          p.collections,
			Out:         p.entities,
			Updates:     updates,
			Timing:      WorkerTiming{IdleTimeout: t.CollectionIdleTimeout, IdleLimit: t.CollectionIdleLimit, EntitySleep: t.EntitySleep},
			MinModified: p.cfg.MinModified,
			MaxModified: p.cfg.MaxModified,
			Metrics:     p.opts.Metrics,
		})
	}
	launch(collectionWorkers, cctx, collectors...)
	fed := make(chan struct{})
	g.Go(func() error {
		err := collectionWorkers.Wait()
		p.entities.Close()
		close(updates)
		close(fed)
		return quiet(err)
	})

	entityWorkers, ectx := errgroup.WithContext(gctx)
	workers := make([]*EntityWorker, p.cfg.Workers.Entity)
	for i := range workers {
		w := NewEntityWorker(EntityWorkerConfig{
			ID:        fmt.Sprintf("entity-worker-%d", i),
			RunID:     p.cfg.RunID,
			Operation: p.opts.Operation,
			In:        p.entities,
			Failures:  failures,
			Timing:    WorkerTiming{IdleTimeout: t.EntityIdleTimeout, IdleLimit: t.EntityIdleLimit},
			Metrics:   p.opts.Metrics,
		})
		workers[i] = w
		launch(entityWorkers, ectx, w)
	}
	var lost int64
	g.Go(func() error {
		defer close(failures)
		if err := entityWorkers.Wait(); err != nil {
			return err
		}
		if p.entities.State() != QueueStateClosed {
			logPipeline("warning", "Entity workers exited while collections were still paging, stopping collection workers")
			starved.Store(true)
			stopFeed()
		}
		<-fed
		lost = p.drainUnprocessed(failures)
		return nil
	})

	runErr := g.Wait()
	sinkErr := sinks.Wait()

	res := Result{Collections: enumerator.Count(), Lost: lost, Duration: time.Since(start)}
	for _, w := range workers {
		res.Processed += w.Processed()
		res.Failed += w.Failed()
	}

	logPipeline("info", fmt.Sprintf("Pipeline finished in %s: %d collections, %d entities processed, %d failed",
		res.Duration.Round(time.Millisecond), res.Collections, res.Processed, res.Failed))
	if res.Lost > 0 {
		logPipeline("error", fmt.Sprintf("%d queued entities were not processed and went to the failure log", res.Lost))
	}

	if runErr != nil {
		return res, runErr
	}
	return res, sinkErr
}

// drainUnprocessed moves what is left in the closed entity queue to the failure log.
func (p *Pipeline) drainUnprocessed(failures chan<- errorsink.Failure) int64 {
	var n int64
	for {
		msg, res := p.entities.Pop(context.Background(), 0)
		if res != Popped {
			return n
		}
		failures <- errorsink.NewFailure(p.cfg.RunID, msg.App, msg.Collection, msg.Entity, ReasonUnprocessed)
		n++
	}
}

// launch runs each worker in g.
func launch(g *errgroup.Group, ctx context.Context, workers ...worker.Worker) {
	for _, w := range workers {
		g.Go(func() error { return w.Run(ctx) })
	}
}

var (
	_ worker.Worker = (*CollectionWorker)(nil)
	_ worker.Worker = (*EntityWorker)(nil)
)

func logPipeline(level, message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "pipeline", "", "pipeline")
	}
}
