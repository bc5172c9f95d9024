// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package errorsink records entities whose operation failed, one JSON object per line, so a
// later run can replay them.
package errorsink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("error sink is closed")

// Failure is one failed entity.
type Failure struct {
	Time       time.Time      `json:"time"`
	RunID      string         `json:"run_id"`
	App        string         `json:"app"`
	Collection string         `json:"collection"`
	UUID       string         `json:"uuid"`
	Type       string         `json:"type"`
	Reason     string         `json:"reason"`
	Entity     *entity.Entity `json:"entity,omitempty"`
}

// NewFailure builds a failure record for an entity. The entity is kept with its metadata so a
// graph replay can traverse from it again.
func NewFailure(runID, app, collection string, e *entity.Entity, reason string) Failure {
	f := Failure{
		Time:       time.Now().UTC(),
		RunID:      runID,
		App:        app,
		Collection: collection,
		Reason:     reason,
	}
	if e != nil {
		f.UUID = e.UUID
		f.Type = e.Type
		f.Entity = e
	}
	return f
}

// Path returns the failure log path of a run.
func Path(dir, runID string) string {
	return filepath.Join(dir, runID+"_errors.txt")
}

// Options configures the idle behavior of Run. Zero values fall back to 1h and 24.
type Options struct {
	IdleTimeout time.Duration
	IdleLimit   int
}

// Sink appends failures to a per-run file.
type Sink struct {
	path string
	opts Options

	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	count  int
	closed bool
}

// Open opens (appending) the failure log of runID in dir, creating dir if needed.
func Open(dir, runID string, opts Options) (*Sink, error) {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	if opts.IdleLimit <= 0 {
		opts.IdleLimit = 24
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create error log directory %s: %w", dir, err)
	}
	path := Path(dir, runID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log %s: %w", path, err)
	}
	return &Sink{path: path, opts: opts, file: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the file the sink writes to.
func (s *Sink) Path() string {
	return s.path
}

// Count returns how many failures were written.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Write appends one failure and flushes it.
func (s *Sink) Write(f Failure) error {
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode failure %s: %w", f.UUID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.count++
	return nil
}

// Run writes failures until the channel closes, ctx ends or IdleLimit consecutive idle timeouts
// pass. On cancellation the failures already queued are still written.
func (s *Sink) Run(ctx context.Context, failures <-chan Failure) error {
	idle := 0
	timer := time.NewTimer(s.opts.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain(failures)
			return ctx.Err()

		case f, ok := <-failures:
			if !ok {
				return nil
			}
			idle = 0
			s.record(f)
			timer.Reset(s.opts.IdleTimeout)

		case <-timer.C:
			idle++
			logSink("debug", fmt.Sprintf("Error sink idle (%d/%d), %d failures written", idle, s.opts.IdleLimit, s.Count()))
			if idle >= s.opts.IdleLimit {
				return nil
			}
			timer.Reset(s.opts.IdleTimeout)
		}
	}
}

func (s *Sink) drain(failures <-chan Failure) {
	for {
		select {
		case f, ok := <-failures:
			if !ok {
				return
			}
			s.record(f)
		default:
			return
		}
	}
}

func (s *Sink) record(f Failure) {
	if err := s.Write(f); err != nil {
		logSink("error", fmt.Sprintf("Failed to record failure of %s/%s/%s: %v", f.App, f.Collection, f.UUID, err))
		return
	}
	logSink("debug", fmt.Sprintf("Recorded failure of %s/%s/%s: %s", f.App, f.Collection, f.UUID, f.Reason))
}

// Close flushes and closes the file. Safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	return errors.Join(flushErr, closeErr)
}

// ReadFailures calls fn for every failure in a log, in file order. Malformed lines are skipped
// and reported through the logger.
func ReadFailures(path string, fn func(Failure) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open error log %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var failure Failure
		if err := json.Unmarshal(raw, &failure); err != nil {
			logSink("warning", fmt.Sprintf("Skipping malformed line %d of %s: %v", line, path, err))
			continue
		}
		if err := fn(failure); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func logSink(level, message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "errors", "sink", "errors")
	}
}
