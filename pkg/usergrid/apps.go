// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ListApps returns the application names of an org, sorted.
// The management API answers with {"data": {"org/app": "uuid", ...}}.
func (c *Client) ListApps(ctx context.Context, org string) ([]string, error) {
	resp, err := c.Get(ctx, c.endpoint.AppsURL(org))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var body struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode app list: %w", err)
	}

	apps := make([]string, 0, len(body.Data))
	for key := range body.Data {
		name := key
		if i := strings.LastIndexByte(key, '/'); i >= 0 {
			name = key[i+1:]
		}
		apps = append(apps, name)
	}
	sort.Strings(apps)
	return apps, nil
}

// GetApp fetches an application entity.
func (c *Client) GetApp(ctx context.Context, org, app string) (*Response, error) {
	return c.Get(ctx, c.endpoint.AppURL(org, app))
}

// CreateApp creates an application in an org.
func (c *Client) CreateApp(ctx context.Context, org, app string) (*Response, error) {
	return c.Post(ctx, c.endpoint.AppsURL(org), map[string]string{"name": app})
}

// ListCollections returns the collection names of an application, taken from the
// metadata of the application entity.
func (c *Client) ListCollections(ctx context.Context, org, app string) ([]string, error) {
	resp, err := c.GetApp(ctx, org, app)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	entities, err := resp.Entities()
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 || entities[0] == nil || entities[0].Metadata == nil {
		return nil, nil
	}
	names := append([]string(nil), entities[0].Metadata.Collections...)
	sort.Strings(names)
	return names, nil
}
