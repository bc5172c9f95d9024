// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps the ledger in process memory. Progress does not survive a restart.
type MemoryStore struct {
	visited  *cache.Cache
	modified *cache.Cache
	mu       sync.Mutex // serializes RecordModified's read-compare-write

	stop      chan struct{}
	janitor   sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryStore creates a memory store. cleanup is the janitor interval for expired
// markers; 0 disables the janitor (expired markers still read as absent). The janitor stops
// on Close.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	s := &MemoryStore{
		visited:  cache.New(cache.NoExpiration, 0),
		modified: cache.New(cache.NoExpiration, 0),
		stop:     make(chan struct{}),
	}
	if cleanup > 0 {
		s.janitor.Add(1)
		go s.sweep(cleanup)
	}
	return s
}

func (s *MemoryStore) sweep(every time.Duration) {
	defer s.janitor.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.visited.DeleteExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) Visited(_ context.Context, key string) (bool, error) {
	_, found := s.visited.Get(key)
	return found, nil
}

func (s *MemoryStore) MarkVisited(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	s.visited.Set(key, time.Now().UnixMilli(), ttl)
	return nil
}

func (s *MemoryStore) LastModified(_ context.Context, uuid string) (int64, bool, error) {
	v, found := s.modified.Get(uuid)
	if !found {
		return 0, false, nil
	}
	return v.(int64), true, nil
}

func (s *MemoryStore) RecordModified(_ context.Context, uuid string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, found := s.modified.Get(uuid); found && v.(int64) >= ts {
		return nil
	}
	s.modified.Set(uuid, ts, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, uuid string) error {
	s.modified.Delete(uuid)
	return nil
}

// Len returns the number of visited markers, including expired ones not yet cleaned up.
func (s *MemoryStore) Len() int {
	return s.visited.ItemCount()
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.janitor.Wait()
		s.visited.Flush()
		s.modified.Flush()
	})
	return nil
}
