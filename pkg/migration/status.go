// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/Project-Sylos/Graph-Migrator/pkg/queue"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
)

// RunStatus summarizes what a run database holds.
type RunStatus struct {
	Orgs        map[string]status.CollectionStatus
	Apps        map[string]status.CollectionStatus
	Collections map[string]status.CollectionStatus // keyed "app/collection"
	Queues      map[string]queue.ObserverMetrics
	Logs        map[string]int // per level
	Buckets     map[string]int // key count per bucket path
}

// IsEmpty reports whether no collection was ever reported.
func (s RunStatus) IsEmpty() bool {
	return len(s.Collections) == 0
}

// Unfinished returns the collections that started but never reported a finish, sorted.
func (s RunStatus) Unfinished() []string {
	var out []string
	for key, c := range s.Collections {
		if !c.Finished() {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// InspectRun reads the status snapshots, queue statistics, log counts and bucket counts
// of a run database. Malformed records are skipped.
func InspectRun(boltDB *db.DB) (RunStatus, error) {
	if boltDB == nil {
		return RunStatus{}, fmt.Errorf("database cannot be nil")
	}

	s := RunStatus{
		Orgs:        map[string]status.CollectionStatus{},
		Apps:        map[string]status.CollectionStatus{},
		Collections: map[string]status.CollectionStatus{},
		Queues:      map[string]queue.ObserverMetrics{},
	}

	snapshots, err := boltDB.GetAllStatusSnapshots()
	if err != nil {
		return RunStatus{}, fmt.Errorf("failed to read status snapshots: %w", err)
	}
	for key, data := range snapshots {
		var cs status.CollectionStatus
		if err := json.Unmarshal(data, &cs); err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(key, status.KeyCollection):
			s.Collections[strings.TrimPrefix(key, status.KeyCollection)] = cs
		case strings.HasPrefix(key, status.KeyApp):
			s.Apps[strings.TrimPrefix(key, status.KeyApp)] = cs
		case strings.HasPrefix(key, status.KeyOrg):
			s.Orgs[strings.TrimPrefix(key, status.KeyOrg)] = cs
		}
	}

	queues, err := boltDB.GetAllQueueStats()
	if err != nil {
		return RunStatus{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	for name, data := range queues {
		var m queue.ObserverMetrics
		if err := json.Unmarshal(data, &m); err == nil {
			s.Queues[name] = m
		}
	}

	if s.Logs, err = boltDB.CountLogs(); err != nil {
		return RunStatus{}, fmt.Errorf("failed to count logs: %w", err)
	}
	if s.Buckets, err = boltDB.BucketCounts(); err != nil {
		return RunStatus{}, fmt.Errorf("failed to count buckets: %w", err)
	}
	return s, nil
}
