// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package usergrid is a small REST client for the source and target data stores.
//
// It knows the URL layout of the paged query/CRUD protocol, executes requests with a
// per-request timeout and an optional rate limit, and exposes a lazy QueryIterator that
// follows cursors and retries transient failures internally.
package usergrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 5

	defaultUserAgent           = "Sylos-Graph-Migrator"
	defaultMaxIdleConnsPerHost = 32
	defaultIdleConnTimeout     = 90 * time.Second
)

// Config tunes a Client. Zero values fall back to defaults.
type Config struct {
	Timeout           time.Duration     // applied when the request context has no deadline
	UserAgent         string            // sent with every request
	RequestsPerSecond float64           // 0 disables rate limiting
	Transport         http.RoundTripper // nil uses a pooled transport
	RetrySleep        time.Duration     // delay between attempts inside a QueryIterator
	PageSleep         time.Duration     // delay between pages inside a QueryIterator
	MaxAttempts       int               // attempts per page inside a QueryIterator
}

// Client executes requests against one Endpoint. Safe for concurrent use.
type Client struct {
	endpoint    Endpoint
	http        *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	userAgent   string
	retrySleep  time.Duration
	pageSleep   time.Duration
	maxAttempts int
}

// New creates a client for the endpoint. A nil cfg uses defaults; cfg is not mutated.
func New(endpoint Endpoint, cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Transport == nil {
		c.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	var limiter *rate.Limiter
	if c.RequestsPerSecond > 0 {
		burst := int(c.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
	}

	return &Client{
		endpoint:    endpoint,
		http:        &http.Client{Transport: c.Transport},
		limiter:     limiter,
		timeout:     c.Timeout,
		userAgent:   c.UserAgent,
		retrySleep:  c.RetrySleep,
		pageSleep:   c.PageSleep,
		maxAttempts: c.MaxAttempts,
	}
}

// Endpoint returns the endpoint the client talks to, for building URLs.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	URL        string
}

// OK reports a 200 response.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Class classifies the response.
func (r *Response) Class() Class {
	return Classify(r.StatusCode, r.Body)
}

// Contains reports whether the body contains sig.
func (r *Response) Contains(sig string) bool {
	return bytes.Contains(r.Body, []byte(sig))
}

// Err returns a *StatusError for non-200 responses, nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{StatusCode: r.StatusCode, URL: r.URL, Body: string(r.Body)}
}

// page is the envelope of entity listings.
type page struct {
	Entities []*entity.Entity `json:"entities"`
	Cursor   string           `json:"cursor,omitempty"`
}

// Entities decodes the entity list of the response.
func (r *Response) Entities() ([]*entity.Entity, error) {
	var p page
	if err := json.Unmarshal(r.Body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode entities from %s: %w", Redact(r.URL), err)
	}
	return p.Entities, nil
}

// First decodes the first entity of the response.
func (r *Response) First() (*entity.Entity, error) {
	entities, err := r.Entities()
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 || entities[0] == nil {
		return nil, ErrNoEntities
	}
	return entities[0], nil
}

// BasicAuth carries basic auth credentials for endpoints that require them.
type BasicAuth struct {
	Username string
	Password string
}

// Do executes a request. body may be nil, a []byte, or any value to JSON-encode.
// A transport failure returns an error; any HTTP status returns a Response.
func (c *Client) Do(ctx context.Context, method, url string, body any, auth *BasicAuth) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, Redact(url), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", Redact(url), err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data, URL: url}, nil
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, url string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, url, body, nil)
}

// Post issues a POST with an optional JSON body.
func (c *Client) Post(ctx context.Context, url string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, body, nil)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, nil, nil)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
