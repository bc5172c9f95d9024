// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package ledger implements the visited ledger and the entity-modified cache.
//
// Both are shared by every worker. Operations are single-key and independent, so the backends
// need no cross-key locking; same-key races resolve by overwrite (visited markers) or by the
// monotonic rule (modified timestamps).
package ledger

import (
	"context"
	"time"
)

// Store is a ledger backend.
type Store interface {
	// Visited reports whether a live marker exists for key.
	Visited(ctx context.Context, key string) (bool, error)
	// MarkVisited writes a marker that expires after ttl. A ttl <= 0 never expires.
	MarkVisited(ctx context.Context, key string, ttl time.Duration) error
	// LastModified returns the last migrated modified timestamp for a source uuid.
	LastModified(ctx context.Context, uuid string) (int64, bool, error)
	// RecordModified stores ts for uuid unless an equal or newer value is already stored.
	RecordModified(ctx context.Context, uuid string, ts int64) error
	// Invalidate removes the modified timestamp for uuid.
	Invalidate(ctx context.Context, uuid string) error
	Close() error
}
