// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package db

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Top-level buckets.
const (
	BucketLogs   = "LOGS"   // LOGS/{level}/{log id}
	BucketStatus = "STATUS" // STATUS/snapshots, STATUS/queue-stats
	BucketLedger = "LEDGER" // LEDGER/visited, LEDGER/modified
)

// Sub-bucket names.
const (
	SubBucketSnapshots  = "snapshots"
	SubBucketQueueStats = "queue-stats"
	SubBucketVisited    = "visited"
	SubBucketModified   = "modified"
)

// GetLogLevelBucketPath returns ["LOGS", level].
func GetLogLevelBucketPath(level string) []string {
	return []string{BucketLogs, level}
}

// GetSnapshotsBucketPath returns ["STATUS", "snapshots"].
func GetSnapshotsBucketPath() []string {
	return []string{BucketStatus, SubBucketSnapshots}
}

// GetQueueStatsBucketPath returns ["STATUS", "queue-stats"].
func GetQueueStatsBucketPath() []string {
	return []string{BucketStatus, SubBucketQueueStats}
}

// GetVisitedBucketPath returns ["LEDGER", "visited"].
func GetVisitedBucketPath() []string {
	return []string{BucketLedger, SubBucketVisited}
}

// GetModifiedBucketPath returns ["LEDGER", "modified"].
func GetModifiedBucketPath() []string {
	return []string{BucketLedger, SubBucketModified}
}

// GetBucket walks a bucket path. Returns nil if any element is missing.
func GetBucket(tx *bolt.Tx, path []string) *bolt.Bucket {
	if len(path) == 0 {
		return nil
	}
	b := tx.Bucket([]byte(path[0]))
	for _, name := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket([]byte(name))
	}
	return b
}

// GetOrCreateBucket walks a bucket path, creating missing elements. Requires a writable tx.
func GetOrCreateBucket(tx *bolt.Tx, path []string) (*bolt.Bucket, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty bucket path")
	}
	b, err := tx.CreateBucketIfNotExists([]byte(path[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", path[0], err)
	}
	for _, name := range path[1:] {
		b, err = b.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
	}
	return b, nil
}

// GetOrCreateLogLevelBucket returns or creates the bucket for one log level.
func GetOrCreateLogLevelBucket(tx *bolt.Tx, level string) (*bolt.Bucket, error) {
	return GetOrCreateBucket(tx, GetLogLevelBucketPath(level))
}
