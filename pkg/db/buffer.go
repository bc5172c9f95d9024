// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package db

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// LogBufferOptions configures a LogBuffer.
type LogBufferOptions struct {
	RunID         string        // stamped on entries that carry none
	BatchSize     int           // default 500
	FlushInterval time.Duration // default 2s
}

// LogBufferStats counts what a buffer persisted.
type LogBufferStats struct {
	RunID   string
	Written int64
	Dropped int64 // entries lost to failed flushes
}

// LogBuffer batches one run's log entries into LOGS/{level}. Entries are keyed
// {timestamp}:{runID}:{id}, so runs sharing a database stay in time order and remain
// distinguishable. A batch is written when it is full, on every tick, and on Stop.
type LogBuffer struct {
	db   *DB
	opts LogBufferOptions

	mu      sync.Mutex
	pending []LogEntry

	written atomic.Int64
	dropped atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLogBuffer starts a buffer for the run in opts.
func NewLogBuffer(d *DB, opts LogBufferOptions) *LogBuffer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	lb := &LogBuffer{
		db:      d,
		opts:    opts,
		pending: make([]LogEntry, 0, opts.BatchSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go lb.flushLoop()
	return lb
}

// Add stamps the entry with the run ID, an ID and a timestamp where missing and queues it.
// A full batch is flushed synchronously.
func (lb *LogBuffer) Add(entry LogEntry) {
	if entry.RunID == "" {
		entry.RunID = lb.opts.RunID
	}
	if entry.ID == "" {
		entry.ID = GenerateLogID()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	lb.mu.Lock()
	lb.pending = append(lb.pending, entry)
	full := len(lb.pending) >= lb.opts.BatchSize
	lb.mu.Unlock()

	if full {
		lb.report(lb.Flush())
	}
}

// Flush writes the pending batch in one transaction. A failed batch is counted as dropped.
func (lb *LogBuffer) Flush() error {
	lb.mu.Lock()
	batch := lb.pending
	if len(batch) == 0 {
		lb.mu.Unlock()
		return nil
	}
	lb.pending = make([]LogEntry, 0, lb.opts.BatchSize)
	lb.mu.Unlock()

	err := lb.db.Update(func(tx *bolt.Tx) error {
		for _, entry := range batch {
			bucket, err := GetOrCreateLogLevelBucket(tx, entry.Level)
			if err != nil {
				return err
			}
			value, err := SerializeLogEntry(entry)
			if err != nil {
				return fmt.Errorf("failed to serialize log entry: %w", err)
			}
			if err := bucket.Put([]byte(LogKey(entry)), value); err != nil {
				return fmt.Errorf("failed to put log entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		lb.dropped.Add(int64(len(batch)))
		return fmt.Errorf("failed to flush %d log entries of run %s: %w", len(batch), lb.opts.RunID, err)
	}
	lb.written.Add(int64(len(batch)))
	return nil
}

// Stats returns the buffer's counters.
func (lb *LogBuffer) Stats() LogBufferStats {
	return LogBufferStats{RunID: lb.opts.RunID, Written: lb.written.Load(), Dropped: lb.dropped.Load()}
}

// Stop flushes what is pending and ends the flush loop, waiting at most two seconds.
// Safe to call more than once.
func (lb *LogBuffer) Stop() LogBufferStats {
	lb.stopOnce.Do(func() { close(lb.stop) })
	select {
	case <-lb.done:
	case <-time.After(2 * time.Second):
	}
	return lb.Stats()
}

func (lb *LogBuffer) flushLoop() {
	defer close(lb.done)
	ticker := time.NewTicker(lb.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lb.report(lb.Flush())
		case <-lb.stop:
			lb.report(lb.Flush())
			return
		}
	}
}

// report goes to stderr: the logservice sits on top of this buffer.
func (lb *LogBuffer) report(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// LogKey is the LOGS key of an entry.
func LogKey(entry LogEntry) string {
	return entry.Timestamp + ":" + entry.RunID + ":" + entry.ID
}
