// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// ErrTargetAppMissing is returned when the target app does not exist and may not be created.
var ErrTargetAppMissing = errors.New("target application does not exist")

// Apps lists the source apps of the org, restricted to the configured app filter.
func (en *Engine) Apps(ctx context.Context) ([]string, error) {
	all, err := en.source.ListApps(ctx, en.cfg.Org)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve apps of org %s: %w", en.cfg.Org, err)
	}
	if len(en.cfg.Apps) == 0 {
		return all, nil
	}
	var selected []string
	for _, app := range all {
		if slices.Contains(en.cfg.Apps, app) {
			selected = append(selected, app)
		} else {
			logEntity("warning", fmt.Sprintf("Skipping app [%s] not included in process list %v", app, en.cfg.Apps), app)
		}
	}
	return selected, nil
}

// EnsureTargetApp checks that the mapped target app exists, creating it when configured to.
func (en *Engine) EnsureTargetApp(ctx context.Context, app string) error {
	org, tApp, _ := en.targetOf(app, "")

	resp, err := en.target.GetApp(ctx, org, tApp)
	if err != nil {
		return fmt.Errorf("unable to check target app %s/%s: %w", org, tApp, err)
	}
	if resp.OK() {
		return nil
	}
	if !en.cfg.CreateApps {
		return fmt.Errorf("%w: %s/%s (HTTP %d)", ErrTargetAppMissing, org, tApp, resp.StatusCode)
	}

	resp, err = en.target.CreateApp(ctx, org, tApp)
	if err != nil {
		return fmt.Errorf("unable to create app %s/%s: %w", org, tApp, err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("unable to create app %s/%s: %w", org, tApp, err)
	}
	logEntity("warning", fmt.Sprintf("Created app=[%s/%s]", org, tApp), tApp)
	return nil
}

// Collections lists the source collections of an app, retrying up to maxAttempts.
func (en *Engine) Collections(ctx context.Context, app string) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := en.retrySleep(ctx); err != nil {
				return nil, err
			}
		}
		names, err := en.source.ListCollections(ctx, en.cfg.Org, app)
		if err == nil {
			return names, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		logEntity("warning", fmt.Sprintf("FAILED: listing collections of app %s (attempt %d): %v", app, attempt, err), app)
	}
	return nil, fmt.Errorf("unable to get collections of app %s: %w", app, lastErr)
}

// SelectCollections applies, in order, the ignore list (unless the collection is explicitly
// included), the include list, the exclude list and the credentials-mode users-only rule.
func (en *Engine) SelectCollections(collections []string) []string {
	c := en.cfg
	var selected []string
	for _, name := range collections {
		switch {
		case slices.Contains(c.IgnoreCollections, name) && !slices.Contains(c.Collections, name),
			len(c.Collections) > 0 && !slices.Contains(c.Collections, name),
			c.CollectionExcluded(name),
			c.Mode == configs.ModeCredentials && name != "users":
			logEntity("warning", fmt.Sprintf("Skipping collection=[%s]", name), name)
			continue
		}
		selected = append(selected, name)
	}
	return selected
}

// QueryURL returns the URL a collection worker pages through.
func (en *Engine) QueryURL(app, collection string) string {
	ep := en.source.Endpoint()
	if en.cfg.GraphRoot {
		return ep.CollectionGraphURL(en.cfg.Org, app, collection, en.cfg.Limit)
	}
	return ep.CollectionQueryURL(en.cfg.Org, app, collection, en.cfg.QL, en.cfg.Limit)
}

// Query pages through a source query URL.
func (en *Engine) Query(queryURL string) usergrid.EntityIterator {
	return en.query.Query(queryURL)
}
