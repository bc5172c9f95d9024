// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

// QueueState represents the lifecycle state of a queue.
type QueueState string

const (
	QueueStateRunning QueueState = "running" // producers may push
	QueueStatePaused  QueueState = "paused"  // producers wait for the low watermark
	QueueStateClosed  QueueState = "closed"  // end of stream; consumers drain and exit
)

// PopResult tells a consumer why Pop returned.
type PopResult int

const (
	Popped   PopResult = iota // a value was returned
	TimedOut                  // nothing arrived within the idle timeout
	Closed                    // the queue is closed and drained
	Canceled                  // ctx ended
)

// Queue is a bounded FIFO between pipeline stages, backed by a channel. Producers are throttled
// by a watermark gate; closing the queue is the end-of-stream signal to consumers.
type Queue[T any] struct {
	name string
	ch   chan T
	gate *Gate

	closeOnce sync.Once
	closed    atomic.Bool
	pushed    atomic.Int64
	popped    atomic.Int64
}

// NewQueue creates a queue of the given capacity. Producers pause when the depth reaches high
// and resume once it drains to low. high <= 0 disables throttling.
func NewQueue[T any](name string, capacity, high, low int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue[T]{name: name, ch: make(chan T, capacity)}
	q.gate = NewGate(name, high, low, q.Len)
	return q
}

// Name returns the queue's name.
func (q *Queue[T]) Name() string {
	return q.name
}

// Len is the current depth.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap is the capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// State returns the lifecycle state.
func (q *Queue[T]) State() QueueState {
	switch {
	case q.closed.Load():
		return QueueStateClosed
	case q.gate.Paused():
		return QueueStatePaused
	}
	return QueueStateRunning
}

// Push waits on the watermark gate, then enqueues v. It blocks while the queue is full and
// returns ctx.Err() if ctx ends first. Pushing to a closed queue panics, like a closed channel.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	if err := q.gate.Wait(ctx); err != nil {
		return err
	}
	select {
	case q.ch <- v:
		q.pushed.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits up to timeout for a value.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, PopResult) {
	var zero T

	// Drain without arming a timer when a value is ready.
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, Closed
		}
		q.popped.Add(1)
		return v, Popped
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, Closed
		}
		q.popped.Add(1)
		return v, Popped
	case <-timer.C:
		return zero, TimedOut
	case <-ctx.Done():
		return zero, Canceled
	}
}

// Close signals end of stream. Values already queued are still delivered. Safe to call twice.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.ch)
		if logservice.LS != nil {
			_ = logservice.LS.Log("debug", fmt.Sprintf("%s queue closed after %d pushes", strings.ToUpper(q.name), q.pushed.Load()), "queue", q.name, q.name)
		}
	})
}

// QueueStats is a point-in-time view of a queue.
type QueueStats struct {
	Name     string     `json:"name"`
	State    QueueState `json:"state"`
	Depth    int        `json:"depth"`
	Capacity int        `json:"capacity"`
	Pushed   int64      `json:"pushed"`
	Popped   int64      `json:"popped"`
}

// Stats returns the queue's current statistics.
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		Name:     q.name,
		State:    q.State(),
		Depth:    q.Len(),
		Capacity: q.Cap(),
		Pushed:   q.pushed.Load(),
		Popped:   q.popped.Load(),
	}
}
