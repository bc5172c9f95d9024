// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package db wraps the bbolt database that holds a run's durable side state:
// buffered logs, status snapshots, queue statistics and (optionally) the visited ledger.
package db

import (
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DB is a bbolt database handle. Safe for concurrent use.
type DB struct {
	bolt *bolt.DB
	path string
}

// Open opens (or creates) the database at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}

	d := &DB{bolt: b, path: path}
	if err := d.ensureRootBuckets(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return d, nil
}

// OpenFresh removes any existing database at path before opening it.
func OpenFresh(path string) (*DB, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove existing database %s: %w", path, err)
	}
	return Open(path)
}

func (db *DB) ensureRootBuckets() error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketLogs, BucketStatus, BucketLedger} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// Update runs fn in a read-write transaction.
func (db *DB) Update(fn func(tx *bolt.Tx) error) error {
	return db.bolt.Update(fn)
}

// Batch runs fn in a read-write transaction that bbolt may coalesce with concurrent callers.
func (db *DB) Batch(fn func(tx *bolt.Tx) error) error {
	return db.bolt.Batch(fn)
}

// View runs fn in a read-only transaction.
func (db *DB) View(fn func(tx *bolt.Tx) error) error {
	return db.bolt.View(fn)
}

// Path returns the file path of the database.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database.
func (db *DB) Close() error {
	if db == nil || db.bolt == nil {
		return nil
	}
	return db.bolt.Close()
}
