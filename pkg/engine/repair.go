// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// repairConflict resolves a naming collision on the target: a record with the same primary key
// but a different identity already exists there.
//
// The earliest-created record wins. The target record is replaced only when the source record
// is older; it is deleted by primary key and the earliest source record sharing that key is PUT
// under its own uuid. Any failed step aborts the repair.
func (en *Engine) repairConflict(ctx context.Context, app, collection string, src *entity.Entity) bool {
	org, tApp, tColl := en.targetOf(app, collection)
	pk := primaryKey(tColl)
	pkValue := src.Field(pk)
	if pkValue == "" {
		logEntity("critical", fmt.Sprintf("Cannot repair [%s / %s]: no %s", tColl, src.UUID, pk), src.UUID)
		return false
	}

	byKey := en.target.Endpoint().EntityURL(org, tApp, tColl, pkValue)

	if !en.sourceOlderThanTarget(ctx, byKey, src) {
		return false
	}

	logEntity("warning", fmt.Sprintf("Repairing: deleting %s=[%s] entity at URL=[%s]", pk, pkValue, usergrid.Redact(byKey)), src.UUID)
	resp, err := en.target.Delete(ctx, byKey)
	if err != nil {
		logEntity("critical", fmt.Sprintf("Deletion of entity at URL=[%s] FAILED: %v", usergrid.Redact(byKey), err), src.UUID)
		return false
	}
	absent := (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized) &&
		resp.Contains(usergrid.SignatureNotFound)
	if !resp.OK() && !absent {
		logEntity("critical", fmt.Sprintf("Deletion of entity at URL=[%s] FAILED [%d]: %s", usergrid.Redact(byKey), resp.StatusCode, resp.Body), src.UUID)
		return false
	}

	best := en.bestSourceEntity(ctx, app, collection, src, pk, pkValue)
	if best.Type == "user" && tColl == "users" {
		best.Set("api-version", "v3")
	}
	body, err := best.Payload()
	if err != nil {
		logEntity("critical", fmt.Sprintf("Unable to encode repaired entity %s: %v", best.UUID, err), src.UUID)
		return false
	}

	byUUID := en.target.Endpoint().PutEntityURL(org, tApp, tColl, best.UUID)
	resp, err = en.target.Put(ctx, byUUID, body)
	if err != nil {
		logEntity("critical", fmt.Sprintf("Failed to PUT the desired entity at URL=[%s]: %v", usergrid.Redact(byUUID), err), src.UUID)
		return false
	}
	if !resp.OK() {
		logEntity("critical", fmt.Sprintf("Failed to PUT [%d] the desired entity at URL=[%s]: %s", resp.StatusCode, usergrid.Redact(byUUID), resp.Body), src.UUID)
		return false
	}

	logEntity("info", fmt.Sprintf("Successfully repaired %s at URL=[%s]", tColl, usergrid.Redact(byUUID)), best.UUID)
	return true
}

// sourceOlderThanTarget decides whether to repair. A missing target record always qualifies.
func (en *Engine) sourceOlderThanTarget(ctx context.Context, byKey string, src *entity.Entity) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := en.retrySleep(ctx); err != nil {
				return false
			}
		}

		resp, err := en.target.Get(ctx, byKey)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			continue
		}

		switch resp.Class() {
		case usergrid.ClassOK:
			existing, err := resp.First()
			if err != nil {
				return true
			}
			if src.Created < existing.Created {
				return true
			}
			logEntity("error", fmt.Sprintf("CONFLICT: target record at URL=[%s] (created %d) is not newer than source %s (created %d), leaving it",
				usergrid.Redact(byKey), existing.Created, src.UUID, src.Created), src.UUID)
			return false
		case usergrid.ClassNotFound:
			return true
		case usergrid.ClassTransient:
			logEntity("warning", fmt.Sprintf("CONFLICT: attempt [%d] GET [%d] on TARGET URL=[%s]", attempt, resp.StatusCode, usergrid.Redact(byKey)), src.UUID)
		default:
			logEntity("error", fmt.Sprintf("CONFLICT: GET [%d] on TARGET URL=[%s]: %s", resp.StatusCode, usergrid.Redact(byKey), resp.Body), src.UUID)
			return false
		}
	}

	logEntity("critical", fmt.Sprintf("Aborting after [%d] attempts to audit record at URL [%s]", maxAttempts, usergrid.Redact(byKey)), src.UUID)
	return false
}

// bestSourceEntity returns the earliest-created source record sharing a primary key. The record
// the key resolves to directly competes with every record of an "order by created asc" query;
// ties keep the direct match, then the first record returned.
func (en *Engine) bestSourceEntity(ctx context.Context, app, collection string, src *entity.Entity, pk, pkValue string) *entity.Entity {
	ep := en.source.Endpoint()

	var best *entity.Entity
	if resp, err := en.source.Get(ctx, ep.EntityURL(en.cfg.Org, app, collection, pkValue)); err == nil && resp.OK() {
		if e, err := resp.First(); err == nil {
			best = e
		}
	}

	ql := fmt.Sprintf("select * where %s='%s' order by created asc", pk, strings.ReplaceAll(pkValue, "'", "\\'"))
	queryURL := ep.CollectionQueryURL(en.cfg.Org, app, collection, ql, en.cfg.Limit)
	logEntity("info", "Attempting to determine best entity from query on URL "+usergrid.Redact(queryURL), src.UUID)

	count := 0
	it := en.query.Query(queryURL)
	for it.Next(ctx) {
		count++
		if e := it.Entity(); best == nil || e.Created < best.Created {
			best = e
		}
	}
	if best == nil {
		logEntity("warning", fmt.Sprintf("Unable to determine best of [%d] entities from query on URL %s", count, usergrid.Redact(queryURL)), src.UUID)
		return src.WithoutMetadata()
	}
	return best.WithoutMetadata()
}
