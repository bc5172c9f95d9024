// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

const memoryCleanupInterval = 10 * time.Minute

// Open builds the ledger for cfg. shared is the run database, used by the bolt backend when
// cfg.Path is empty. If the backend cannot be opened the returned ledger is already degraded.
func Open(ctx context.Context, cfg configs.CacheConfig, shared *db.DB) *Ledger {
	opts := Options{
		Backend:    cfg.Backend,
		TTL:        cfg.VisitTTL,
		SkipRead:   cfg.SkipRead,
		SkipWrite:  cfg.SkipWrite,
		KeyVersion: cfg.KeyVersion,
	}

	store, err := openStore(ctx, cfg, shared)
	if err != nil {
		if logservice.LS != nil {
			_ = logservice.LS.Log("warning",
				fmt.Sprintf("Ledger backend %s unavailable, running without cache: %v", cfg.Backend, err), "ledger", cfg.Backend)
		}
		l := New(NoopStore{}, opts)
		l.degraded.Store(true)
		return l
	}

	if logservice.LS != nil {
		_ = logservice.LS.Log("info",
			fmt.Sprintf("Ledger ready (backend=%s ttl=%s version=%s)", cfg.Backend, cfg.VisitTTL, cfg.KeyVersion), "ledger", cfg.Backend)
	}
	return New(store, opts)
}

func openStore(ctx context.Context, cfg configs.CacheConfig, shared *db.DB) (Store, error) {
	switch cfg.Backend {
	case configs.CacheMemory:
		return NewMemoryStore(memoryCleanupInterval), nil
	case configs.CacheNone:
		return NoopStore{}, nil
	case configs.CacheBadger:
		return OpenBadgerStore(cfg.Path)
	case configs.CacheBolt, "":
		var (
			s   *BoltStore
			err error
		)
		switch {
		case cfg.Path != "":
			s, err = OpenBoltStore(cfg.Path)
		case shared != nil:
			s, err = NewBoltStore(shared)
		default:
			return nil, fmt.Errorf("bolt ledger needs cache.path or a run database")
		}
		if err != nil {
			return nil, err
		}
		if n, err := s.Sweep(ctx); err == nil && n > 0 && logservice.LS != nil {
			_ = logservice.LS.Log("info", fmt.Sprintf("Swept %d expired visited markers", n), "ledger", "bolt")
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", configs.ErrInvalidCache, cfg.Backend)
	}
}
