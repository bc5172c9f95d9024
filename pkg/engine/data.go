// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// MigrateData upserts one entity to the target store.
//
// An entity whose modified timestamp is not newer than the cached one is skipped. On success the
// timestamp is recorded and the type-specific secondary upserts run. 5xx and network errors are
// retried up to maxAttempts. A duplicate unique property is terminal; any other 400 on a users or
// roles target goes to conflict repair; any other client error is terminal.
func (en *Engine) MigrateData(ctx context.Context, app, collection string, src *entity.Entity) bool {
	if cached, ok := en.ledger.LastModified(ctx, src.UUID); ok {
		if src.Modified <= cached {
			logEntity("debug", fmt.Sprintf("Skipping ENTITY %s / %s / %s (modified %d, cached %d)",
				app, collection, src.UUID, src.Modified, cached), src.UUID)
			return true
		}
		en.ledger.Invalidate(ctx, src.UUID)
	}

	cacheUUID, cacheModified := src.UUID, src.Modified

	if isUsers(collection) {
		src = en.confirmUserEntity(ctx, app, src)
	}

	org, tApp, tColl := en.targetOf(app, collection)

	payload := src.WithoutMetadata()
	switch {
	case src.Type == "device":
		transformDevice(payload, app)
	case src.Type == "user" && tColl == "users":
		payload.Set("api-version", "v3")
	}

	id := en.SourceIdentifier(payload)
	url := en.target.Endpoint().PutEntityURL(org, tApp, tColl, id)
	body, err := payload.Payload()
	if err != nil {
		logEntity("error", fmt.Sprintf("Unable to encode entity [%s / %s]: %v", collection, id, err), src.UUID)
		return false
	}

	logEntity("info", fmt.Sprintf("Visiting ENTITY data [%s / %s]", collection, id), src.UUID)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			logEntity("warning", fmt.Sprintf("Attempt [%d] to migrate entity [%s / %s] at URL [%s]",
				attempt, collection, id, usergrid.Redact(url)), src.UUID)
			if err := en.retrySleep(ctx); err != nil {
				return false
			}
		}

		resp, err := en.target.Put(ctx, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			logEntity("error", fmt.Sprintf("PUT %s failed on attempt [%d]: %v", usergrid.Redact(url), attempt, err), src.UUID)
			continue
		}

		switch class := resp.Class(); {
		case class == usergrid.ClassOK:
			en.ledger.RecordModified(ctx, cacheUUID, cacheModified)
			en.afterUpsert(ctx, org, tApp, tColl, src.Type, payload)
			return true

		case class == usergrid.ClassTransient:
			logEntity("error", fmt.Sprintf("Failure [%d] on attempt [%d] to PUT url=[%s]", resp.StatusCode, attempt, usergrid.Redact(url)), src.UUID)
			continue

		case class == usergrid.ClassDuplicate:
			logEntity("error", fmt.Sprintf("WILL NOT RETRY (duplicate) PUT url=[%s]: %s", usergrid.Redact(url), resp.Body), src.UUID)
			return false

		case resp.StatusCode == http.StatusBadRequest && (isRoles(tColl) || isUsers(tColl)):
			logEntity("warning", fmt.Sprintf("Conflict on PUT url=[%s], repairing: %s", usergrid.Redact(url), resp.Body), src.UUID)
			if !en.repairConflict(ctx, app, collection, src) {
				return false
			}
			en.ledger.RecordModified(ctx, cacheUUID, cacheModified)
			return true

		default:
			logEntity("error", fmt.Sprintf("WILL NOT RETRY [%d] PUT url=[%s]: %s", resp.StatusCode, usergrid.Redact(url), resp.Body), src.UUID)
			return false
		}
	}

	logEntity("critical", fmt.Sprintf("ABORT migrate data after [%d] attempts | created=[%d] | modified=[%d] | %s / %s / %s",
		maxAttempts, src.Created, src.Modified, app, collection, id), src.UUID)
	return false
}

// afterUpsert runs the secondary upserts of a successfully migrated entity. Their failures are
// logged but do not fail the entity.
func (en *Engine) afterUpsert(ctx context.Context, org, app, collection, entityType string, payload *entity.Entity) {
	switch {
	case entityType == "device":
		en.migrateDeviceToTokenMap(ctx, org, app, payload)
	case entityType == "user" && collection == "users":
		en.migrateUserDevices(ctx, org, app, payload)
	}
}

// confirmUserEntity re-reads a user from the source by username. Duplicate usernames can leave
// the collection listing pointing at a record other than the one the username resolves to.
func (en *Engine) confirmUserEntity(ctx context.Context, app string, src *entity.Entity) *entity.Entity {
	if src.Username == "" {
		return src
	}
	url := en.source.Endpoint().EntityURL(en.cfg.Org, app, "users", src.Username)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := en.retrySleep(ctx); err != nil {
				return src
			}
		}

		resp, err := en.source.Get(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return src
			}
			continue
		}
		if resp.OK() {
			got, err := resp.First()
			if err != nil {
				return src
			}
			if got.UUID != src.UUID {
				logEntity("info", fmt.Sprintf("UUID of source entity [%s] differs from uuid [%s] of user [%s] and will be substituted",
					src.UUID, got.UUID, src.Username), src.UUID)
			}
			return got
		}
		if resp.Contains(usergrid.SignatureNotFound) {
			logEntity("warning", fmt.Sprintf("Unable to retrieve user [%s], using source entity", src.Username), src.UUID)
			return src
		}
		logEntity("error", fmt.Sprintf("Attempt [%d] to confirm user at URL [%s] received status [%d]",
			attempt, usergrid.Redact(url), resp.StatusCode), src.UUID)
	}

	logEntity("error", fmt.Sprintf("Punting after [%d] attempts to confirm user [%s], using source entity", maxAttempts, src.Username), src.UUID)
	return src
}
