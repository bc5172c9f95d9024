// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerVisitedPrefix  = "visited/"
	badgerModifiedPrefix = "modified/"

	// read-compare-write on the same uuid can conflict under concurrent writers
	badgerConflictRetries = 100
)

// BadgerStore keeps the ledger in BadgerDB and lets badger expire visited markers natively.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a badger directory at path, or an in-memory instance when path is empty.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerStore{db: bdb}, nil
}

func (s *BadgerStore) Visited(_ context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(badgerVisitedPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BadgerStore) MarkVisited(_ context.Context, key string, ttl time.Duration) error {
	value := []byte(strconv.FormatInt(time.Now().UnixMilli(), 10))
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(badgerVisitedPrefix+key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) LastModified(_ context.Context, uuid string) (int64, bool, error) {
	var ts int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerModifiedPrefix + uuid))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ts, err = strconv.ParseInt(string(val), 10, 64)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

func (s *BadgerStore) RecordModified(ctx context.Context, uuid string, ts int64) error {
	key := []byte(badgerModifiedPrefix + uuid)
	var err error
	for i := 0; i < badgerConflictRetries; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				var cur int64
				if err := item.Value(func(val []byte) error {
					cur, err = strconv.ParseInt(string(val), 10, 64)
					return err
				}); err == nil && cur >= ts {
					return nil
				}
			}
			return txn.Set(key, []byte(strconv.FormatInt(ts, 10)))
		})
		if !errors.Is(err, badger.ErrConflict) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Invalidate(_ context.Context, uuid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerModifiedPrefix + uuid))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
