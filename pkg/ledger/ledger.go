// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

// Options tune a Ledger.
type Options struct {
	Backend    string
	TTL        time.Duration
	SkipRead   bool
	SkipWrite  bool
	KeyVersion string
}

// Ledger fronts a Store with the run's cache flags and TTL.
//
// Its methods never fail. The first backend error switches the ledger to no-cache mode for the
// rest of the run: reads report "not visited" and writes are dropped. That costs redundant work
// but never correctness, since every target write is an idempotent PUT.
type Ledger struct {
	Keys Keys

	store     Store
	backend   string
	ttl       time.Duration
	skipRead  bool
	skipWrite bool

	degraded  atomic.Bool
	closeOnce sync.Once
}

// New wraps store.
func New(store Store, opts Options) *Ledger {
	return &Ledger{
		Keys:      Keys{Version: opts.KeyVersion},
		store:     store,
		backend:   opts.Backend,
		ttl:       opts.TTL,
		skipRead:  opts.SkipRead,
		skipWrite: opts.SkipWrite,
	}
}

// Disabled returns a ledger that never caches anything.
func Disabled(keyVersion string) *Ledger {
	return New(NoopStore{}, Options{Backend: "none", KeyVersion: keyVersion})
}

// Visited reports whether key has a live marker.
func (l *Ledger) Visited(ctx context.Context, key string) bool {
	if l.skipRead || l.degraded.Load() {
		return false
	}
	ok, err := l.store.Visited(ctx, key)
	if err != nil {
		l.fail(ctx, "visited", key, err)
		return false
	}
	return ok
}

// MarkVisited writes a marker for key with the configured TTL.
func (l *Ledger) MarkVisited(ctx context.Context, key string) {
	if l.skipWrite || l.degraded.Load() {
		return
	}
	if err := l.store.MarkVisited(ctx, key, l.ttl); err != nil {
		l.fail(ctx, "mark visited", key, err)
	}
}

// LastModified returns the last migrated modified timestamp for a source uuid.
func (l *Ledger) LastModified(ctx context.Context, uuid string) (int64, bool) {
	if l.skipRead || l.degraded.Load() {
		return 0, false
	}
	ts, ok, err := l.store.LastModified(ctx, uuid)
	if err != nil {
		l.fail(ctx, "last modified", uuid, err)
		return 0, false
	}
	return ts, ok
}

// RecordModified stores ts for uuid if it is newer than the stored value.
func (l *Ledger) RecordModified(ctx context.Context, uuid string, ts int64) {
	if l.skipWrite || l.degraded.Load() {
		return
	}
	if err := l.store.RecordModified(ctx, uuid, ts); err != nil {
		l.fail(ctx, "record modified", uuid, err)
	}
}

// Invalidate drops the modified timestamp for uuid.
func (l *Ledger) Invalidate(ctx context.Context, uuid string) {
	if l.skipWrite || l.degraded.Load() {
		return
	}
	if err := l.store.Invalidate(ctx, uuid); err != nil {
		l.fail(ctx, "invalidate", uuid, err)
	}
}

// Degraded reports whether the ledger has fallen back to no-cache mode.
func (l *Ledger) Degraded() bool {
	return l.degraded.Load()
}

// Backend names the configured backend.
func (l *Ledger) Backend() string {
	return l.backend
}

// Store exposes the backend, e.g. for sweeping expired bolt markers.
func (l *Ledger) Store() Store {
	return l.store
}

// Close closes the backend once.
func (l *Ledger) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.store.Close() })
	return err
}

// fail degrades the ledger. Errors caused by the caller's own cancellation do not count.
func (l *Ledger) fail(ctx context.Context, op, key string, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if l.degraded.CompareAndSwap(false, true) && logservice.LS != nil {
		_ = logservice.LS.Log("warning",
			fmt.Sprintf("Ledger %s failed, continuing without cache: %v", op, err), "ledger", key)
	}
}
