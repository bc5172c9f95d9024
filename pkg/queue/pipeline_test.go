// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	appsErr     error
	collections map[string][]string
	missing     map[string]bool
}

func (c *fakeCatalog) Apps(context.Context) ([]string, error) {
	if c.appsErr != nil {
		return nil, c.appsErr
	}
	apps := make([]string, 0, len(c.collections))
	for app := range c.collections {
		apps = append(apps, app)
	}
	return apps, nil
}

func (c *fakeCatalog) EnsureTargetApp(_ context.Context, app string) error {
	if c.missing[app] {
		return fmt.Errorf("app %s missing", app)
	}
	return nil
}

func (c *fakeCatalog) Collections(_ context.Context, app string) ([]string, error) {
	return c.collections[app], nil
}

func (c *fakeCatalog) SelectCollections(all []string) []string {
	var out []string
	for _, name := range all {
		if name != "activities" {
			out = append(out, name)
		}
	}
	return out
}

type sliceIterator struct {
	items []*entity.Entity
	cur   *entity.Entity
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if ctx.Err() != nil || len(it.items) == 0 {
		return false
	}
	it.cur, it.items = it.items[0], it.items[1:]
	return true
}

func (it *sliceIterator) Entity() *entity.Entity { return it.cur }
func (it *sliceIterator) Err() error             { return nil }

type fakeSource struct {
	data map[string][]*entity.Entity
}

func (s *fakeSource) QueryURL(app, collection string) string {
	return app + "/" + collection
}

func (s *fakeSource) Query(queryURL string) usergrid.EntityIterator {
	return &sliceIterator{items: s.data[queryURL]}
}

func thing(entityType, uuid string, modified int64) *entity.Entity {
	e := entity.New(entityType)
	e.UUID = uuid
	e.Created = modified
	e.Modified = modified
	return e
}

func testConfig() *configs.Config {
	cfg := configs.Default()
	cfg.Org = "org"
	cfg.RunID = "run-1"
	cfg.MaxModified = 1000
	cfg.Workers = configs.WorkersConfig{Entity: 3, Collection: 2}
	cfg.Queue = configs.QueueConfig{Capacity: 16, HighWatermark: 12, LowWatermark: 4}
	cfg.Timing.EntitySleep = 0
	cfg.Timing.CollectionIdleTimeout = 5 * time.Second
	cfg.Timing.EntityIdleTimeout = 5 * time.Second
	return cfg
}

func TestPipelineRunsToCompletion(t *testing.T) {
	cfg := testConfig()

	things := make([]*entity.Entity, 0, 1201)
	for i := 0; i < 1200; i++ {
		things = append(things, thing("thing", fmt.Sprintf("T%d", i), 1))
	}
	things = append(things, thing("thing", "too-new", 5000))

	catalog := &fakeCatalog{
		collections: map[string][]string{
			"app":    {"users", "things", "activities"},
			"broken": {"users"},
		},
		missing: map[string]bool{"broken": true},
	}
	source := &fakeSource{data: map[string][]*entity.Entity{
		"app/users":  {thing("user", "U1", 10), thing("user", "bad", 10), thing("user", "boom", 10)},
		"app/things": things,
	}}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	op := func(_ context.Context, app, collection string, e *entity.Entity) bool {
		mu.Lock()
		seen[e.UUID]++
		mu.Unlock()
		switch e.UUID {
		case "bad":
			return false
		case "boom":
			panic("boom")
		}
		return true
	}

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	agg := status.NewAggregator(status.Options{Org: "org", IdleTimeout: time.Hour})
	sink, err := errorsink.Open(t.TempDir(), cfg.RunID, errorsink.Options{IdleTimeout: time.Hour})
	require.NoError(t, err)
	store := &memStats{data: map[string][]byte{}}

	p, err := New(cfg, Options{
		Catalog:    catalog,
		Source:     source,
		Operation:  op,
		Aggregator: agg,
		Sink:       sink,
		Metrics:    metrics,
		Store:      store,
		ObserveAt:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.Equal(t, 2, res.Collections)
	assert.Equal(t, int64(1203), res.Processed)
	assert.Equal(t, int64(2), res.Failed)

	mu.Lock()
	assert.Len(t, seen, 1203)
	assert.NotContains(t, seen, "too-new")
	for id, n := range seen {
		assert.Equal(t, 1, n, "entity %s delivered more than once", id)
	}
	mu.Unlock()

	var failed []string
	var reasons []string
	require.NoError(t, errorsink.ReadFailures(sink.Path(), func(f errorsink.Failure) error {
		failed = append(failed, f.UUID)
		reasons = append(reasons, f.Reason)
		assert.Equal(t, "run-1", f.RunID)
		return nil
	}))
	assert.ElementsMatch(t, []string{"bad", "boom"}, failed)
	assert.ElementsMatch(t, []string{"operation failed", "panic: boom"}, reasons)

	snap := agg.Snapshot()
	assert.Equal(t, int64(1203), snap.Org.Count)
	assert.Equal(t, int64(1200), snap.Collections["app"]["things"].Count)
	assert.True(t, snap.Collections["app"]["things"].Finished())
	assert.Equal(t, 3, agg.Updates(), "one intermediate snapshot for things plus two final ones")

	assert.Equal(t, float64(1200), testutil.ToFloat64(metrics.entitiesProcessed.WithLabelValues("app", "things")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.entitiesFailed.WithLabelValues("app", "users")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationPanics))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.collectionsFinished))

	assert.Contains(t, store.data, QueueCollections)
	assert.Contains(t, store.data, QueueEntities)
}

func TestPipelineFailsWhenAppsCannotBeListed(t *testing.T) {
	cfg := testConfig()
	boom := errors.New("source down")

	p, err := New(cfg, Options{
		Catalog:   &fakeCatalog{appsErr: boom},
		Source:    &fakeSource{},
		Operation: func(context.Context, string, string, *entity.Entity) bool { return true },
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, res.Processed)
}

func TestPipelineStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := New(cfg, Options{
		Catalog:   &fakeCatalog{collections: map[string][]string{"app": {"things"}}},
		Source:    &fakeSource{data: map[string][]*entity.Entity{"app/things": {thing("thing", "T1", 1)}}},
		Operation: func(context.Context, string, string, *entity.Entity) bool { return true },
	})
	require.NoError(t, err)

	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresOperation(t *testing.T) {
	_, err := New(testConfig(), Options{Catalog: &fakeCatalog{}, Source: &fakeSource{}})
	assert.ErrorIs(t, err, ErrNoOperation)
}

func TestWorkersExitAfterIdleLimit(t *testing.T) {
	timing := WorkerTiming{IdleTimeout: 5 * time.Millisecond, IdleLimit: 2}

	entities := NewQueue[EntityMessage](QueueEntities, 4, 0, 0)
	var calls atomic.Int64
	ew := NewEntityWorker(EntityWorkerConfig{
		ID:        "entity-worker-0",
		Operation: func(context.Context, string, string, *entity.Entity) bool { calls.Add(1); return true },
		In:        entities,
		Timing:    timing,
	})
	require.NoError(t, entities.Push(context.Background(), EntityMessage{App: "app", Collection: "things", Entity: thing("thing", "T1", 1)}))
	assert.NoError(t, ew.Run(context.Background()))
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), ew.Processed())

	collections := NewQueue[CollectionTask](QueueCollections, 4, 0, 0)
	cw := NewCollectionWorker(CollectionWorkerConfig{
		ID:     "collection-worker-0",
		Source: &fakeSource{},
		In:     collections,
		Out:    entities,
		Timing: timing,
	})
	assert.NoError(t, cw.Run(context.Background()))
}

func TestEnumeratorSkipsMissingApps(t *testing.T) {
	out := NewQueue[CollectionTask](QueueCollections, 8, 0, 0)
	e := NewEnumerator(&fakeCatalog{
		collections: map[string][]string{"app": {"users", "activities"}, "gone": {"users"}},
		missing:     map[string]bool{"gone": true},
	}, out)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, e.Count())

	task, res := out.Pop(context.Background(), time.Second)
	require.Equal(t, Popped, res)
	assert.Equal(t, "app/users", task.String())
	_, res = out.Pop(context.Background(), time.Second)
	assert.Equal(t, Closed, res)
}

func TestCollectionWorkerCountsFinishedCollections(t *testing.T) {
	collections := NewQueue[CollectionTask](QueueCollections, 4, 0, 0)
	entities := NewQueue[EntityMessage](QueueEntities, 8, 0, 0)
	updates := make(chan status.CollectionStatus, 4)

	cw := NewCollectionWorker(CollectionWorkerConfig{
		ID: "collection-worker-0",
		Source: &fakeSource{data: map[string][]*entity.Entity{
			"app/users": {thing("user", "U1", 10), thing("user", "U2", 2000)},
			"app/roles": {thing("role", "R1", 20)},
		}},
		In:          collections,
		Out:         entities,
		Updates:     updates,
		Timing:      WorkerTiming{IdleTimeout: time.Second, IdleLimit: 1},
		MaxModified: 1000,
	})

	ctx := context.Background()
	require.NoError(t, collections.Push(ctx, CollectionTask{App: "app", Collection: "users"}))
	require.NoError(t, collections.Push(ctx, CollectionTask{App: "app", Collection: "roles"}))
	collections.Close()

	require.NoError(t, cw.Run(ctx))
	assert.Equal(t, int64(2), cw.Processed())
	assert.Equal(t, 2, entities.Stats().Depth, "entities outside the modified window are not queued")

	close(updates)
	var finished int
	for st := range updates {
		if st.Finished() {
			finished++
		}
	}
	assert.Equal(t, 2, finished)
}

// slowIterator stalls before its first entity, ignoring ctx like a source stuck in retries.
type slowIterator struct {
	delay time.Duration
	sliceIterator
}

func (it *slowIterator) Next(ctx context.Context) bool {
	if it.delay > 0 {
		time.Sleep(it.delay)
		it.delay = 0
	}
	if len(it.items) == 0 {
		return false
	}
	it.cur, it.items = it.items[0], it.items[1:]
	return true
}

type slowSource struct {
	delay time.Duration
	items []*entity.Entity
}

func (s *slowSource) QueryURL(app, collection string) string { return app + "/" + collection }

func (s *slowSource) Query(string) usergrid.EntityIterator {
	return &slowIterator{delay: s.delay, sliceIterator: sliceIterator{items: s.items}}
}

func TestPipelineStopsPagingWhenEntityWorkersIdleOut(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = configs.WorkersConfig{Entity: 1, Collection: 1}
	cfg.Queue = configs.QueueConfig{Capacity: 2}
	cfg.Timing.EntityIdleTimeout = 20 * time.Millisecond
	cfg.Timing.EntityIdleLimit = 1

	items := make([]*entity.Entity, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, thing("thing", fmt.Sprintf("T%d", i), 1))
	}
	sink, err := errorsink.Open(t.TempDir(), cfg.RunID, errorsink.Options{IdleTimeout: time.Hour})
	require.NoError(t, err)

	var calls atomic.Int64
	p, err := New(cfg, Options{
		Catalog:   &fakeCatalog{collections: map[string][]string{"app": {"things"}}},
		Source:    &slowSource{delay: 300 * time.Millisecond, items: items},
		Operation: func(context.Context, string, string, *entity.Entity) bool { calls.Add(1); return true },
		Sink:      sink,
	})
	require.NoError(t, err)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Run(context.Background())
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline still running after its entity workers exited")
	}
	require.NoError(t, out.err)
	require.NoError(t, sink.Close())

	assert.Zero(t, calls.Load())
	assert.LessOrEqual(t, out.res.Lost, int64(2))

	var lost int64
	require.NoError(t, errorsink.ReadFailures(sink.Path(), func(f errorsink.Failure) error {
		assert.Equal(t, ReasonUnprocessed, f.Reason)
		lost++
		return nil
	}))
	assert.Equal(t, out.res.Lost, lost)
	assert.Equal(t, QueueStateClosed, p.entities.State())
}
