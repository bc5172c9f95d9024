// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package queue runs the migration pipeline: an enumerator feeding collection tasks to
// collection workers, which page entities into a bounded queue drained by entity workers.
//
// The Observer polls the pipeline queues at a fixed interval and publishes their depth and
// throughput to BoltDB and Prometheus, so external tools can watch a run without touching
// the queues:
//
//	observer := queue.NewObserver(boltDB, metrics, time.Second)
//	observer.Register(collections)
//	observer.Register(entities)
//	observer.Start()
//	defer observer.Stop()
//
// Stats land in the STATUS/queue-stats bucket keyed by queue name.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

// Observable is anything that reports queue statistics.
type Observable interface {
	Name() string
	Stats() QueueStats
}

// StatsStore persists queue statistics. *db.DB satisfies it.
type StatsStore interface {
	PutQueueStats(queueKey string, data []byte) error
}

// ObserverMetrics is a queue's stats plus the rate computed between polls.
type ObserverMetrics struct {
	QueueStats
	PerSecond    float64   `json:"per_second"`
	LastPollTime time.Time `json:"last_poll_time"`
}

// Observer collects statistics from queues by polling them directly.
type Observer struct {
	mu          sync.Mutex
	store       StatsStore
	metrics     *Metrics
	queues      map[string]Observable
	prevMetrics map[string]ObserverMetrics
	interval    time.Duration
	stop        chan struct{}
	done        chan struct{}
	running     bool
}

// NewObserver creates an observer. store and metrics may be nil. interval defaults to 1s.
func NewObserver(store StatsStore, metrics *Metrics, interval time.Duration) *Observer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Observer{
		store:       store,
		metrics:     metrics,
		queues:      make(map[string]Observable),
		prevMetrics: make(map[string]ObserverMetrics),
		interval:    interval,
	}
}

// Register adds a queue to observe.
func (o *Observer) Register(q Observable) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues[q.Name()] = q
}

// Start begins polling. Calling it while running has no effect.
func (o *Observer) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.running = true
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.observeLoop(o.stop, o.done)
}

// Stop ends polling after one last publish and waits for the loop to exit. Safe to call twice.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stop)
	done := o.done
	o.mu.Unlock()
	<-done
}

func (o *Observer) observeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			o.Poll()
			return
		case <-ticker.C:
			o.Poll()
		}
	}
}

// Poll samples every registered queue once and publishes the result.
func (o *Observer) Poll() map[string]ObserverMetrics {
	o.mu.Lock()
	queues := make([]Observable, 0, len(o.queues))
	for _, q := range o.queues {
		queues = append(queues, q)
	}
	o.mu.Unlock()

	now := time.Now()
	out := make(map[string]ObserverMetrics, len(queues))
	for _, q := range queues {
		out[q.Name()] = o.pollQueue(q, now)
	}
	o.publish(out)
	return out
}

func (o *Observer) pollQueue(q Observable, now time.Time) ObserverMetrics {
	stats := q.Stats()

	o.mu.Lock()
	prev, hasPrev := o.prevMetrics[stats.Name]
	o.mu.Unlock()

	var perSecond float64
	if hasPrev {
		if dt := now.Sub(prev.LastPollTime).Seconds(); dt > 0 {
			if delta := stats.Popped - prev.Popped; delta > 0 {
				perSecond = float64(delta) / dt
			}
		}
	}

	m := ObserverMetrics{QueueStats: stats, PerSecond: perSecond, LastPollTime: now}
	o.mu.Lock()
	o.prevMetrics[stats.Name] = m
	o.mu.Unlock()

	o.metrics.recordQueue(stats, perSecond)
	return m
}

func (o *Observer) publish(metrics map[string]ObserverMetrics) {
	if o.store == nil {
		return
	}
	for name, m := range metrics {
		data, err := json.Marshal(m)
		if err != nil {
			logObserver("error", fmt.Sprintf("Failed to marshal metrics for queue %s: %v", name, err))
			continue
		}
		if err := o.store.PutQueueStats(name, data); err != nil {
			logObserver("error", fmt.Sprintf("Failed to publish metrics for queue %s: %v", name, err))
		}
	}
}

func logObserver(level, message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "observer", "publish", "observer")
	}
}
