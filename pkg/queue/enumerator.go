// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"context"
	"fmt"

	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
)

// Catalog lists what to migrate. *engine.Engine satisfies it.
type Catalog interface {
	Apps(ctx context.Context) ([]string, error)
	EnsureTargetApp(ctx context.Context, app string) error
	Collections(ctx context.Context, app string) ([]string, error)
	SelectCollections(collections []string) []string
}

// Enumerator publishes one CollectionTask per selected collection of every selected app, then
// closes its queue.
type Enumerator struct {
	catalog Catalog
	out     *Queue[CollectionTask]
	count   int
}

// NewEnumerator creates an enumerator writing to out.
func NewEnumerator(catalog Catalog, out *Queue[CollectionTask]) *Enumerator {
	return &Enumerator{catalog: catalog, out: out}
}

// Run enumerates. Failing to list apps is fatal; an app that cannot be prepared or listed is
// skipped. The queue is closed on every return path.
func (e *Enumerator) Run(ctx context.Context) error {
	defer e.out.Close()

	apps, err := e.catalog.Apps(ctx)
	if err != nil {
		return err
	}
	logEnumerator("info", fmt.Sprintf("Enumerating %d apps: %v", len(apps), apps))

	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.catalog.EnsureTargetApp(ctx, app); err != nil {
			logEnumerator("error", fmt.Sprintf("Skipping app [%s]: %v", app, err))
			continue
		}
		all, err := e.catalog.Collections(ctx, app)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logEnumerator("error", fmt.Sprintf("Skipping app [%s]: %v", app, err))
			continue
		}

		selected := e.catalog.SelectCollections(all)
		logEnumerator("info", fmt.Sprintf("App [%s]: %d of %d collections selected", app, len(selected), len(all)))
		for _, coll := range selected {
			task := CollectionTask{App: app, Collection: coll}
			if err := e.out.Push(ctx, task); err != nil {
				return err
			}
			e.count++
			logEnumerator("debug", "Published collection task "+task.String())
		}
	}

	logEnumerator("info", fmt.Sprintf("Enumeration finished: %d collection tasks", e.count))
	return nil
}

// Count returns how many tasks were published.
func (e *Enumerator) Count() int {
	return e.count
}

func logEnumerator(level, message string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "enumerator", "", QueueCollections)
	}
}
