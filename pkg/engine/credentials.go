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

// MigrateUserCredentials copies a user's credentials. The credentials endpoint takes superuser
// basic auth rather than client credentials. Only the users collection qualifies.
func (en *Engine) MigrateUserCredentials(ctx context.Context, app, collection string, e *entity.Entity) bool {
	if collection != "users" {
		return false
	}

	id := en.SourceIdentifier(e)
	org, tApp, _ := en.targetOf(app, collection)
	auth := &usergrid.BasicAuth{Username: en.cfg.Superuser.Username, Password: en.cfg.Superuser.Password}

	sourceURL := en.source.Endpoint().CredentialsURL(en.cfg.Org, app, id)
	resp, err := en.source.Do(ctx, http.MethodGet, sourceURL, nil, auth)
	if err != nil {
		logEntity("error", fmt.Sprintf("Unable to migrate credentials on GET URL [%s]: %v", sourceURL, err), e.UUID)
		return false
	}
	if !resp.OK() {
		logEntity("error", fmt.Sprintf("Unable to migrate credentials due to HTTP [%d] on GET URL [%s]: %s", resp.StatusCode, sourceURL, resp.Body), e.UUID)
		return false
	}

	targetURL := en.target.Endpoint().CredentialsURL(org, tApp, id)
	logEntity("info", fmt.Sprintf("Putting credentials to [%s]...", targetURL), e.UUID)
	resp, err = en.target.Do(ctx, http.MethodPut, targetURL, resp.Body, auth)
	if err != nil {
		logEntity("error", fmt.Sprintf("Unable to migrate credentials on PUT URL [%s]: %v", targetURL, err), e.UUID)
		return false
	}
	if !resp.OK() {
		logEntity("error", fmt.Sprintf("Unable to migrate credentials due to HTTP [%d] on PUT URL [%s]: %s", resp.StatusCode, targetURL, resp.Body), e.UUID)
		return false
	}

	logEntity("info", fmt.Sprintf("Migrated credentials of %s / %s / %s", app, collection, e.UUID), e.UUID)
	return true
}

// Reput PUTs an empty body to the target entity by uuid, which makes the store re-index it.
func (en *Engine) Reput(ctx context.Context, app, collection string, e *entity.Entity) bool {
	org, tApp, tColl := en.targetOf(app, collection)
	url := en.target.Endpoint().PutEntityURL(org, tApp, tColl, e.UUID)

	resp, err := en.target.Put(ctx, url, []byte("{}"))
	if err != nil {
		logEntity("error", fmt.Sprintf("Reput [%s] failed: %v", usergrid.Redact(url), err), e.UUID)
		return false
	}
	if !resp.OK() {
		logEntity("info", fmt.Sprintf("HTTP [%s]: %d", usergrid.Redact(url), resp.StatusCode), e.UUID)
		return false
	}
	logEntity("debug", fmt.Sprintf("HTTP [%s]: %d", usergrid.Redact(url), resp.StatusCode), e.UUID)
	return true
}
