// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package engine

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// suppressedEdges are edges never followed from a collection: they are unreadable (feed,
// activities) or reached more cheaply from the other side (roles, groups, followers, users).
var suppressedEdges = map[string][]string{
	"users":    {"roles", "followers", "groups", "feed", "activities"},
	"user":     {"roles", "followers", "groups", "feed", "activities"},
	"device":   {"users"},
	"devices":  {"users"},
	"receipts": {"device", "devices"},
	"receipt":  {"device", "devices"},
}

// IncludeEdge reports whether an edge of a collection is traversed.
// A non-empty include list admits only its members; the exclude list then removes edges.
func (en *Engine) IncludeEdge(collection, edge string) bool {
	g := en.cfg.Graph
	if len(g.IncludeEdges) > 0 && !slices.Contains(g.IncludeEdges, edge) {
		return false
	}
	if slices.Contains(g.ExcludeEdges, edge) {
		return false
	}
	return !slices.Contains(suppressedEdges[collection], edge)
}

// connectionURL addresses the target end of an edge by name when its type is addressed by
// name (devices never are), by uuid otherwise.
func (en *Engine) connectionURL(org, app, collection, sourceID, verb string, t *entity.Entity) string {
	ep := en.target.Endpoint()
	if t.Type != "device" && t.Name != "" && en.cfg.UseName(t.Type) {
		return ep.ConnectionByNameURL(org, app, collection, sourceID, verb, t.Type, t.Name)
	}
	return ep.ConnectionByUUIDURL(org, app, collection, sourceID, verb, t.UUID)
}

type connectResult int

const (
	connected connectResult = iota
	connectFailed
	// connectAborted means the edge type is unusable (401/404) and its remaining stack is dropped.
	connectAborted
)

// createConnection POSTs a connection URL, retrying 5xx and network errors with a fixed delay.
func (en *Engine) createConnection(ctx context.Context, url string) connectResult {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := en.retrySleep(ctx); err != nil {
				return connectFailed
			}
		}

		resp, err := en.target.Post(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return connectFailed
			}
			logEntity("warning", fmt.Sprintf("FAILED (will retry) to create connection at URL=[%s]: %v", usergrid.Redact(url), err), "")
			continue
		}

		switch {
		case resp.OK():
			return connected
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
			logEntity("critical", fmt.Sprintf("FAILED [%d] (WILL NOT RETRY - 401/404) to create connection at URL=[%s]: %s",
				resp.StatusCode, usergrid.Redact(url), resp.Body), "")
			return connectAborted
		case resp.Class() == usergrid.ClassTransient:
			logEntity("warning", fmt.Sprintf("FAILED [%d] (will retry) to create connection at URL=[%s]", resp.StatusCode, usergrid.Redact(url)), "")
		default:
			logEntity("error", fmt.Sprintf("FAILED [%d] to create connection at URL=[%s]: %s", resp.StatusCode, usergrid.Redact(url), resp.Body), "")
			return connectFailed
		}
	}

	logEntity("critical", fmt.Sprintf("FAILED (WILL NOT RETRY - max attempts) to create connection at URL=[%s]", usergrid.Redact(url)), "")
	return connectFailed
}
