// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package db

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// LogEntry represents a single log record to be buffered.
type LogEntry struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
	Level     string `json:"level"`
	Entity    string `json:"entity,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	Message   string `json:"message"`
	Queue     string `json:"queue,omitempty"`
}

// SerializeLogEntry converts a LogEntry to bytes for storage.
func SerializeLogEntry(entry LogEntry) ([]byte, error) {
	return json.Marshal(entry)
}

// DeserializeLogEntry decodes a stored LogEntry.
func DeserializeLogEntry(data []byte) (*LogEntry, error) {
	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to deserialize LogEntry: %w", err)
	}
	return &entry, nil
}

// GenerateLogID generates a new UUID for a log entry.
func GenerateLogID() string {
	return uuid.New().String()
}

// CountLogs returns the number of stored log entries per level.
func (db *DB) CountLogs() (map[string]int, error) {
	counts := make(map[string]int)
	err := db.View(func(tx *bolt.Tx) error {
		logs := tx.Bucket([]byte(BucketLogs))
		if logs == nil {
			return nil
		}
		return logs.ForEachBucket(func(level []byte) error {
			counts[string(level)] = logs.Bucket(level).Stats().KeyN
			return nil
		})
	})
	return counts, err
}

// ReadLogs calls fn for every stored entry of a level, in key order.
func (db *DB) ReadLogs(level string, fn func(*LogEntry) error) error {
	return db.View(func(tx *bolt.Tx) error {
		b := GetBucket(tx, GetLogLevelBucketPath(level))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			entry, err := DeserializeLogEntry(v)
			if err != nil {
				return err
			}
			return fn(entry)
		})
	})
}

// CountRunLogs returns the number of stored entries of one run per level.
func (db *DB) CountRunLogs(runID string) (map[string]int, error) {
	counts := make(map[string]int)
	err := db.View(func(tx *bolt.Tx) error {
		logs := tx.Bucket([]byte(BucketLogs))
		if logs == nil {
			return nil
		}
		return logs.ForEachBucket(func(level []byte) error {
			return logs.Bucket(level).ForEach(func(_, v []byte) error {
				entry, err := DeserializeLogEntry(v)
				if err != nil {
					return err
				}
				if entry.RunID == runID {
					counts[string(level)]++
				}
				return nil
			})
		})
	})
	return counts, err
}
