// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	bolt "go.etcd.io/bbolt"
)

// visitedRecord is the value stored under LEDGER/visited/{key}.
type visitedRecord struct {
	VisitedAt int64 `json:"visited_at"`
	ExpiresAt int64 `json:"expires_at,omitempty"` // unix millis; 0 never expires
}

func (r visitedRecord) live(now time.Time) bool {
	return r.ExpiresAt == 0 || now.UnixMilli() < r.ExpiresAt
}

// BoltStore keeps the ledger in the LEDGER bucket of a bbolt database.
// Expired markers read as absent and are removed by Sweep.
type BoltStore struct {
	db    *db.DB
	owned bool
	now   func() time.Time
}

// NewBoltStore uses an already open database. Close leaves it open.
func NewBoltStore(d *db.DB) (*BoltStore, error) {
	s := &BoltStore{db: d, now: time.Now}
	if err := s.ensureBuckets(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenBoltStore opens a dedicated database at path. Close closes it.
func OpenBoltStore(path string) (*BoltStore, error) {
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewBoltStore(d)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := db.GetOrCreateBucket(tx, db.GetVisitedBucketPath()); err != nil {
			return err
		}
		_, err := db.GetOrCreateBucket(tx, db.GetModifiedBucketPath())
		return err
	})
}

func (s *BoltStore) Visited(_ context.Context, key string) (bool, error) {
	var live bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := db.GetBucket(tx, db.GetVisitedBucketPath())
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var rec visitedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("corrupt visited record %s: %w", key, err)
		}
		live = rec.live(s.now())
		return nil
	})
	return live, err
}

func (s *BoltStore) MarkVisited(_ context.Context, key string, ttl time.Duration) error {
	now := s.now()
	rec := visitedRecord{VisitedAt: now.UnixMilli()}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl).UnixMilli()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Batch(func(tx *bolt.Tx) error {
		b, err := db.GetOrCreateBucket(tx, db.GetVisitedBucketPath())
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
}

func (s *BoltStore) LastModified(_ context.Context, uuid string) (int64, bool, error) {
	var (
		ts    int64
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := db.GetBucket(tx, db.GetModifiedBucketPath())
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(uuid))
		if raw == nil {
			return nil
		}
		v, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt modified record %s: %w", uuid, err)
		}
		ts, found = v, true
		return nil
	})
	return ts, found, err
}

func (s *BoltStore) RecordModified(_ context.Context, uuid string, ts int64) error {
	return s.db.Batch(func(tx *bolt.Tx) error {
		b, err := db.GetOrCreateBucket(tx, db.GetModifiedBucketPath())
		if err != nil {
			return err
		}
		if raw := b.Get([]byte(uuid)); raw != nil {
			if cur, err := strconv.ParseInt(string(raw), 10, 64); err == nil && cur >= ts {
				return nil
			}
		}
		return b.Put([]byte(uuid), []byte(strconv.FormatInt(ts, 10)))
	})
}

func (s *BoltStore) Invalidate(_ context.Context, uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := db.GetBucket(tx, db.GetModifiedBucketPath())
		if b == nil {
			return nil
		}
		return b.Delete([]byte(uuid))
	})
}

// Sweep deletes expired visited markers and returns how many were removed.
func (s *BoltStore) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var expired [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := db.GetBucket(tx, db.GetVisitedBucketPath())
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec visitedRecord
			if json.Unmarshal(v, &rec) != nil || !rec.live(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := db.GetBucket(tx, db.GetVisitedBucketPath())
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *BoltStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
