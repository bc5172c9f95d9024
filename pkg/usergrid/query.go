// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
)

// EntityIterator is a lazy sequence of entities.
type EntityIterator interface {
	Next(ctx context.Context) bool
	Entity() *entity.Entity
	Err() error
}

// QuerySource turns a query URL into a lazy entity sequence.
type QuerySource interface {
	Query(queryURL string) EntityIterator
}

// QueryIterator pages through a query URL by following response cursors.
// Transient failures are retried with the client's retry sleep, up to MaxAttempts per page.
//
//	it := client.Query(u)
//	for it.Next(ctx) {
//		use(it.Entity())
//	}
//	if err := it.Err(); err != nil { ... }
type QueryIterator struct {
	client  *Client
	url     string
	cursor  string
	buf     []*entity.Entity
	current *entity.Entity
	fetched bool // at least one page was requested
	done    bool // no more pages
	err     error
	pages   int
}

// Query returns an iterator over queryURL. No request is made until Next is called.
func (c *Client) Query(queryURL string) EntityIterator {
	return &QueryIterator{client: c, url: queryURL}
}

// Next advances to the next entity, fetching pages as needed.
func (it *QueryIterator) Next(ctx context.Context) bool {
	for len(it.buf) == 0 {
		if it.err != nil || it.done {
			return false
		}
		if it.fetched && it.client.pageSleep > 0 {
			if err := Sleep(ctx, it.client.pageSleep); err != nil {
				it.err = err
				return false
			}
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
	}

	it.current = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Entity returns the current entity.
func (it *QueryIterator) Entity() *entity.Entity {
	return it.current
}

// Err returns the error that stopped iteration, if any.
func (it *QueryIterator) Err() error {
	return it.err
}

// Pages returns the number of pages fetched so far.
func (it *QueryIterator) Pages() int {
	return it.pages
}

func (it *QueryIterator) pageURL() (string, error) {
	if it.cursor == "" {
		return it.url, nil
	}
	u, err := url.Parse(it.url)
	if err != nil {
		return "", fmt.Errorf("invalid query URL: %w", err)
	}
	q := u.Query()
	q.Set("cursor", it.cursor)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (it *QueryIterator) fetch(ctx context.Context) error {
	target, err := it.pageURL()
	if err != nil {
		return err
	}
	it.fetched = true

	var lastErr error
	for attempt := 1; attempt <= it.client.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := Sleep(ctx, it.client.retrySleep); err != nil {
				return err
			}
		}

		resp, err := it.client.Get(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		switch resp.Class() {
		case ClassOK:
		case ClassTransient:
			lastErr = resp.Err()
			continue
		default:
			return resp.Err()
		}

		var p page
		if err := json.Unmarshal(resp.Body, &p); err != nil {
			return fmt.Errorf("failed to decode page from %s: %w", Redact(target), err)
		}
		it.pages++
		for _, e := range p.Entities {
			if e != nil {
				it.buf = append(it.buf, e)
			}
		}
		it.cursor = p.Cursor
		if p.Cursor == "" || len(p.Entities) == 0 {
			it.done = true
		}
		return nil
	}
	return fmt.Errorf("giving up on %s after %d attempts: %w", Redact(target), it.client.maxAttempts, lastErr)
}
