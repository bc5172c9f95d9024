// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package engine

import (
	"context"
	"fmt"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// MigrateGraph migrates an entity and everything reachable from it within the depth bound.
//
// The node is marked visited before any work so concurrent or cyclic paths reaching it again
// stop immediately. The result is the AND of every sub-operation; siblings always continue.
func (en *Engine) MigrateGraph(ctx context.Context, app, collection string, e *entity.Entity, depth int) bool {
	if depth > en.cfg.Graph.MaxDepth {
		logEntity("debug", fmt.Sprintf("Reached max graph depth, stopping after [%d]", depth), e.UUID)
		return true
	}
	if en.cfg.CollectionExcluded(collection) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	tag := fmt.Sprintf("[%s / %s / %s]", app, collection, e.UUID)
	key := en.ledger.Keys.Node(e.UUID)
	if en.ledger.Visited(ctx, key) {
		logEntity("info", "Skipping GRAPH "+tag+" - visited", e.UUID)
		return true
	}
	en.ledger.MarkVisited(ctx, key)
	logEntity("info", fmt.Sprintf("Visiting GRAPH %s at depth %d", tag, depth), e.UUID)

	ok := en.MigrateData(ctx, app, collection, e)

	for _, edge := range e.OutEdges() {
		if en.IncludeEdge(collection, edge) {
			ok = en.migrateOutEdge(ctx, app, collection, e, edge, depth) && ok
		}
	}
	for _, edge := range e.InEdges() {
		if en.IncludeEdge(collection, edge) {
			ok = en.migrateInEdge(ctx, app, collection, e, edge, depth) && ok
		}
	}
	return ok
}

// migrateOutEdge migrates every target of one out-edge type, then creates the connections
// last-in-first-out once all targets exist on the target store.
func (en *Engine) migrateOutEdge(ctx context.Context, app, collection string, e *entity.Entity, edge string, depth int) bool {
	next := depth + 1
	if next > en.cfg.Graph.MaxDepth {
		return true
	}

	key := en.ledger.Keys.OutEdge(e.UUID, edge)
	if en.ledger.Visited(ctx, key) {
		logEntity("info", fmt.Sprintf("Skipping EDGE [%s / %s --%s-->] - visited", collection, e.UUID, edge), e.UUID)
		return true
	}
	en.ledger.MarkVisited(ctx, key)

	sourceID := en.SourceIdentifier(e)
	org, tApp, tColl := en.targetOf(app, collection)

	ok := true
	var stack []*entity.Entity

	it := en.query.Query(en.source.Endpoint().ConnectionQueryURL(en.cfg.Org, app, collection, sourceID, edge))
	for it.Next(ctx) {
		t := it.Entity()
		if !en.MigrateGraph(ctx, app, t.Type, t, next) {
			logEntity("critical", fmt.Sprintf("Error migrating TARGET entity for connection [%s / %s / %s] --[%s]--> [%s / %s]",
				app, collection, sourceID, edge, t.Type, t.UUID), t.UUID)
			ok = false
		}
		stack = append(stack, t)
	}
	if err := it.Err(); err != nil {
		logEntity("error", fmt.Sprintf("Listing EDGE [%s / %s --%s-->] failed: %v", collection, sourceID, edge, err), e.UUID)
		ok = false
	}

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if en.cfg.CollectionExcluded(t.Type) {
			continue
		}

		url := en.connectionURL(org, tApp, tColl, sourceID, edge, t)
		connKey := en.ledger.Keys.Connection(usergrid.Redact(url))
		if en.ledger.Visited(ctx, connKey) {
			continue
		}

		logEntity("info", fmt.Sprintf("Connecting entity [%s / %s / %s] --[%s]--> [%s / %s]", tApp, collection, sourceID, edge, t.Type, t.UUID), e.UUID)
		switch en.createConnection(ctx, url) {
		case connected:
			en.ledger.MarkVisited(ctx, connKey)
		case connectFailed:
			ok = false
		case connectAborted:
			ok = false
			stack = nil
		}
	}
	return ok
}

// migrateInEdge migrates the entities connecting to e through one edge type. The edges
// themselves are created by the connecting entity's own out-edge pass.
func (en *Engine) migrateInEdge(ctx context.Context, app, collection string, e *entity.Entity, edge string, depth int) bool {
	next := depth + 1
	if next > en.cfg.Graph.MaxDepth {
		return true
	}

	key := en.ledger.Keys.InEdge(e.UUID, edge)
	if en.ledger.Visited(ctx, key) {
		logEntity("info", fmt.Sprintf("Skipping EDGE [--%s--> %s / %s] - visited", edge, collection, e.UUID), e.UUID)
		return true
	}
	en.ledger.MarkVisited(ctx, key)

	ok := true
	it := en.query.Query(en.source.Endpoint().ConnectingQueryURL(en.cfg.Org, app, collection, e.UUID, edge))
	for it.Next(ctx) {
		c := it.Entity()
		ok = en.MigrateGraph(ctx, app, c.Type, c, next) && ok
	}
	if err := it.Err(); err != nil {
		logEntity("error", fmt.Sprintf("Listing EDGE [--%s--> %s / %s] failed: %v", edge, collection, e.UUID, err), e.UUID)
		ok = false
	}
	return ok
}
