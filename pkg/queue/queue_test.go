// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueuePopResults(t *testing.T) {
	ctx := context.Background()
	q := NewQueue[int]("test", 4, 0, 0)

	_, res := q.Pop(ctx, 5*time.Millisecond)
	assert.Equal(t, TimedOut, res)

	require.NoError(t, q.Push(ctx, 1))
	require.NoError(t, q.Push(ctx, 2))
	q.Close()
	q.Close()
	assert.Equal(t, QueueStateClosed, q.State())

	v, res := q.Pop(ctx, time.Second)
	assert.Equal(t, Popped, res)
	assert.Equal(t, 1, v)
	v, res = q.Pop(ctx, time.Second)
	assert.Equal(t, Popped, res)
	assert.Equal(t, 2, v)
	_, res = q.Pop(ctx, time.Second)
	assert.Equal(t, Closed, res)

	stats := q.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, int64(2), stats.Pushed)
	assert.Equal(t, int64(2), stats.Popped)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, 0, stats.Depth)
}

func TestQueueRespectsCancellation(t *testing.T) {
	q := NewQueue[int]("test", 1, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, res := q.Pop(ctx, time.Hour)
	assert.Equal(t, Canceled, res)

	require.NoError(t, q.Push(context.Background(), 1))
	assert.ErrorIs(t, q.Push(ctx, 2), context.Canceled, "full queue and canceled context")
}

func TestGateHysteresis(t *testing.T) {
	var depth atomic.Int64
	g := NewGate("test", 5, 2, func() int { return int(depth.Load()) })
	g.poll = time.Millisecond
	ctx := context.Background()

	depth.Store(4)
	require.NoError(t, g.Wait(ctx))
	assert.False(t, g.Paused())

	depth.Store(5)
	var released atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Wait(ctx)
		released.Store(true)
	}()

	require.Eventually(t, g.Paused, time.Second, time.Millisecond)
	depth.Store(3)
	assert.Never(t, released.Load, 50*time.Millisecond, 5*time.Millisecond, "still above the low watermark")

	depth.Store(2)
	require.Eventually(t, released.Load, time.Second, time.Millisecond)
	<-done
	assert.False(t, g.Paused())

	// open again: depth between the watermarks passes straight through
	depth.Store(4)
	require.NoError(t, g.Wait(ctx))
}

func TestGateWaitCanceled(t *testing.T) {
	g := NewGate("test", 1, 0, func() int { return 1 })
	g.poll = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
}

func TestGateDisabled(t *testing.T) {
	g := NewGate("test", 0, 0, func() int { return 1 << 20 })
	assert.NoError(t, g.Wait(context.Background()))
}

type memStats struct {
	data map[string][]byte
}

func (m *memStats) PutQueueStats(key string, data []byte) error {
	m.data[key] = data
	return nil
}

func TestObserverPublishesOnStop(t *testing.T) {
	store := &memStats{data: map[string][]byte{}}
	q := NewQueue[int]("entities", 4, 0, 0)
	require.NoError(t, q.Push(context.Background(), 1))

	o := NewObserver(store, nil, time.Hour)
	o.Register(q)
	o.Start()
	o.Start()
	o.Stop()
	o.Stop()

	require.Contains(t, store.data, "entities")
	assert.Contains(t, string(store.data["entities"]), `"depth":1`)
}

func TestObserverThroughput(t *testing.T) {
	q := NewQueue[int]("entities", 8, 0, 0)
	o := NewObserver(nil, nil, time.Hour)
	o.Register(q)

	first := o.Poll()["entities"]
	assert.Zero(t, first.PerSecond)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(ctx, i))
		_, res := q.Pop(ctx, time.Second)
		require.Equal(t, Popped, res)
	}
	time.Sleep(5 * time.Millisecond)
	second := o.Poll()["entities"]
	assert.Greater(t, second.PerSecond, 0.0)
	assert.Equal(t, int64(4), second.Popped)
}
