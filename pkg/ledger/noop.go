// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package ledger

import (
	"context"
	"time"
)

// NoopStore is the no-cache backend: nothing is ever visited and writes are dropped.
type NoopStore struct{}

func (NoopStore) Visited(context.Context, string) (bool, error) { return false, nil }
func (NoopStore) MarkVisited(context.Context, string, time.Duration) error { return nil }
func (NoopStore) LastModified(context.Context, string) (int64, bool, error) { return 0, false, nil }
func (NoopStore) RecordModified(context.Context, string, int64) error { return nil }
func (NoopStore) Invalidate(context.Context, string) error { return nil }
func (NoopStore) Close() error { return nil }
