// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

// Store persists status snapshots. *db.DB satisfies it.
type Store interface {
	PutStatusSnapshot(key string, data []byte) error
}

// Snapshot key prefixes. Every snapshot value is a JSON CollectionStatus.
const (
	KeyCollection = "collection:"
	KeyApp        = "app:"
	KeyOrg        = "org:"
)

// Options configures an Aggregator. Zero idle settings fall back to 60s and 120.
type Options struct {
	Org         string
	IdleTimeout time.Duration
	IdleLimit   int
	Store       Store    // optional
	Metrics     *Metrics // optional
}

// Snapshot is the merged view: per-collection statuses plus app and org rollups.
type Snapshot struct {
	Org         CollectionStatus                       `json:"org"`
	Apps        map[string]CollectionStatus            `json:"apps"`
	Collections map[string]map[string]CollectionStatus `json:"collections"`
}

// Aggregator is the single collector of collection status updates.
type Aggregator struct {
	opts Options

	mu          sync.Mutex
	collections map[string]map[string]CollectionStatus
	updates     int
}

// NewAggregator creates an aggregator. Run consumes its updates.
func NewAggregator(opts Options) *Aggregator {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.IdleLimit <= 0 {
		opts.IdleLimit = 120
	}
	return &Aggregator{
		opts:        opts,
		collections: make(map[string]map[string]CollectionStatus),
	}
}

// Run merges updates until the channel closes, ctx ends or IdleLimit consecutive idle timeouts
// pass. A final snapshot is logged and persisted in every case.
func (a *Aggregator) Run(ctx context.Context, updates <-chan CollectionStatus) error {
	idle := 0
	timer := time.NewTimer(a.opts.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			a.emit("final")
			return ctx.Err()

		case s, ok := <-updates:
			if !ok {
				a.emit("final")
				return nil
			}
			idle = 0
			a.Apply(s)
			a.emit("update")
			timer.Reset(a.opts.IdleTimeout)

		case <-timer.C:
			idle++
			a.emit(fmt.Sprintf("idle %d/%d", idle, a.opts.IdleLimit))
			if idle >= a.opts.IdleLimit {
				logStatus("warning", fmt.Sprintf("Status aggregator exiting after %d idle timeouts", idle))
				a.emit("final")
				return nil
			}
			timer.Reset(a.opts.IdleTimeout)
		}
	}
}

// Apply replaces the stored status of a collection with a newer snapshot of it.
func (a *Aggregator) Apply(s CollectionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	byColl, ok := a.collections[s.App]
	if !ok {
		byColl = make(map[string]CollectionStatus)
		a.collections[s.App] = byColl
	}
	byColl[s.Collection] = s
	a.updates++
}

// Updates returns how many updates were applied.
func (a *Aggregator) Updates() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updates
}

// Snapshot computes the rollups over the latest per-collection statuses.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Org:         New("", ""),
		Apps:        make(map[string]CollectionStatus, len(a.collections)),
		Collections: make(map[string]map[string]CollectionStatus, len(a.collections)),
	}
	for app, byColl := range a.collections {
		rollup := New(app, "")
		copied := make(map[string]CollectionStatus, len(byColl))
		for name, s := range byColl {
			rollup.Merge(s)
			copied[name] = s
		}
		snap.Apps[app] = rollup
		snap.Collections[app] = copied
		snap.Org.Merge(rollup)
	}
	return snap
}

func (a *Aggregator) emit(reason string) {
	snap := a.Snapshot()
	logStatus("info", fmt.Sprintf("Status [%s]: org=%s entities=%d bytes=%d apps=%d",
		reason, a.opts.Org, snap.Org.Count, snap.Org.Bytes, len(snap.Apps)))

	for _, app := range sortedKeys(snap.Collections) {
		for _, s := range snap.Collections[app] {
			a.opts.Metrics.observe(s)
		}
	}

	if a.opts.Store == nil {
		return
	}
	if err := a.persist(snap); err != nil {
		logStatus("error", fmt.Sprintf("Failed to persist status snapshot: %v", err))
	}
}

func (a *Aggregator) persist(snap Snapshot) error {
	put := func(key string, s CollectionStatus) error {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return a.opts.Store.PutStatusSnapshot(key, data)
	}

	if err := put(KeyOrg+a.opts.Org, snap.Org); err != nil {
		return err
	}
	for app, rollup := range snap.Apps {
		if err := put(KeyApp+app, rollup); err != nil {
			return err
		}
		for _, s := range snap.Collections[app] {
			if err := put(KeyCollection+s.Key(), s); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func logStatus(level, message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "status", "aggregator", "status")
	}
}
