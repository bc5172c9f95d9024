// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package db

import (
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// PutStatusSnapshot stores a JSON status snapshot under key (e.g. "org" or "app/{name}").
func (db *DB) PutStatusSnapshot(key string, data []byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		b, err := GetOrCreateBucket(tx, GetSnapshotsBucketPath())
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// GetStatusSnapshot returns a stored snapshot, or nil if absent.
func (db *DB) GetStatusSnapshot(key string) ([]byte, error) {
	return db.get(GetSnapshotsBucketPath(), key)
}

// GetAllStatusSnapshots returns every stored snapshot keyed by name.
func (db *DB) GetAllStatusSnapshots() (map[string][]byte, error) {
	return db.getAll(GetSnapshotsBucketPath())
}

// PutQueueStats stores the JSON metrics of one queue.
func (db *DB) PutQueueStats(queueKey string, data []byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		b, err := GetOrCreateBucket(tx, GetQueueStatsBucketPath())
		if err != nil {
			return err
		}
		return b.Put([]byte(queueKey), data)
	})
}

// GetQueueStats returns the stored metrics of one queue, or nil if absent.
func (db *DB) GetQueueStats(queueKey string) ([]byte, error) {
	return db.get(GetQueueStatsBucketPath(), queueKey)
}

// GetAllQueueStats returns the stored metrics of every queue.
func (db *DB) GetAllQueueStats() (map[string][]byte, error) {
	return db.getAll(GetQueueStatsBucketPath())
}

// BucketCounts returns the key count of every bucket, keyed by its slash-joined path.
func (db *DB) BucketCounts() (map[string]int, error) {
	counts := make(map[string]int)
	err := db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			return countBucket(b, []string{string(name)}, counts)
		})
	})
	return counts, err
}

func countBucket(b *bolt.Bucket, path []string, counts map[string]int) error {
	n := 0
	err := b.ForEach(func(k, v []byte) error {
		if v == nil {
			child := b.Bucket(k)
			if child == nil {
				return nil
			}
			return countBucket(child, append(append([]string(nil), path...), string(k)), counts)
		}
		n++
		return nil
	})
	counts[strings.Join(path, "/")] = n
	return err
}

func (db *DB) get(path []string, key string) ([]byte, error) {
	var out []byte
	err := db.View(func(tx *bolt.Tx) error {
		b := GetBucket(tx, path)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", strings.Join(path, "/"), key, err)
	}
	return out, nil
}

func (db *DB) getAll(path []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := db.View(func(tx *bolt.Tx) error {
		b := GetBucket(tx, path)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if v != nil {
				out[string(k)] = append([]byte(nil), v...)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", strings.Join(path, "/"), err)
	}
	return out, nil
}
