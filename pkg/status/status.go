// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package status tracks per-collection migration progress and rolls it up per app and per org.
package status

import (
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
)

// Sentinels the min/max timestamps start from.
const (
	MinSentinel int64 = 1584946416000
	MaxSentinel int64 = -1
)

// SnapshotEvery is how many entities a collection worker observes between snapshots.
const SnapshotEvery = 1000

// CollectionStatus is the progress of one collection, or a rollup of several.
type CollectionStatus struct {
	App               string    `json:"app,omitempty"`
	Collection        string    `json:"collection,omitempty"`
	Count             int64     `json:"count"`
	Bytes             int64     `json:"bytes"`
	MinCreated        int64     `json:"min_created"`
	MaxCreated        int64     `json:"max_created"`
	MinModified       int64     `json:"min_modified"`
	MaxModified       int64     `json:"max_modified"`
	IterationStarted  time.Time `json:"iteration_started,omitzero"`
	IterationFinished time.Time `json:"iteration_finished,omitzero"`
}

// New returns an empty status with the sentinels set.
func New(app, collection string) CollectionStatus {
	return CollectionStatus{
		App:         app,
		Collection:  collection,
		MinCreated:  MinSentinel,
		MaxCreated:  MaxSentinel,
		MinModified: MinSentinel,
		MaxModified: MaxSentinel,
	}
}

// Start returns a status whose iteration started at t.
func Start(app, collection string, t time.Time) CollectionStatus {
	s := New(app, collection)
	s.IterationStarted = t
	return s
}

// Observe accounts for one entity.
func (s *CollectionStatus) Observe(e *entity.Entity) {
	s.Count++
	s.Bytes += int64(e.Size())
	s.MinCreated = min(s.MinCreated, e.Created)
	s.MaxCreated = max(s.MaxCreated, e.Created)
	s.MinModified = min(s.MinModified, e.Modified)
	s.MaxModified = max(s.MaxModified, e.Modified)
}

// Merge sums counts and bytes and widens the timestamp ranges.
func (s *CollectionStatus) Merge(o CollectionStatus) {
	s.Count += o.Count
	s.Bytes += o.Bytes
	s.MinCreated = min(s.MinCreated, o.MinCreated)
	s.MaxCreated = max(s.MaxCreated, o.MaxCreated)
	s.MinModified = min(s.MinModified, o.MinModified)
	s.MaxModified = max(s.MaxModified, o.MaxModified)
	if !o.IterationStarted.IsZero() && (s.IterationStarted.IsZero() || o.IterationStarted.Before(s.IterationStarted)) {
		s.IterationStarted = o.IterationStarted
	}
	if o.IterationFinished.After(s.IterationFinished) {
		s.IterationFinished = o.IterationFinished
	}
}

// Finish stamps the end of the iteration.
func (s *CollectionStatus) Finish(t time.Time) {
	s.IterationFinished = t
}

// Finished reports whether the iteration has ended.
func (s CollectionStatus) Finished() bool {
	return !s.IterationFinished.IsZero()
}

// Key identifies the collection within its org.
func (s CollectionStatus) Key() string {
	return s.App + "/" + s.Collection
}
