// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEndpoint = Endpoint{APIURL: "https://api.example", ClientID: "id", ClientSecret: "secret"}

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c := New(testEndpoint, &Config{
		Transport:   mt,
		RetrySleep:  time.Millisecond,
		MaxAttempts: 3,
	})
	return c, mt
}

func TestURLTemplates(t *testing.T) {
	e := testEndpoint

	assert.Equal(t, "https://api.example/management/organizations/org/applications?client_id=id&client_secret=secret", e.AppsURL("org"))
	assert.Equal(t, "https://api.example/org/app?client_id=id&client_secret=secret", e.AppURL("org", "app"))
	assert.Equal(t, "https://api.example/org/app/users?client_id=id&client_secret=secret&limit=100&ql=select+%2A", e.CollectionQueryURL("org", "app", "users", "select *", 100))
	assert.Equal(t, "https://api.example/org/app/users?client_id=id&client_secret=secret&limit=10", e.CollectionGraphURL("org", "app", "users", 10))
	assert.Equal(t, "https://api.example/org/app/users/alice/devices?client_id=id&client_secret=secret", e.ConnectionQueryURL("org", "app", "users", "alice", "devices"))
	assert.Equal(t, "https://api.example/org/app/users/U1/connecting/follows?client_id=id&client_secret=secret", e.ConnectingQueryURL("org", "app", "users", "U1", "follows"))
	assert.Equal(t, "https://api.example/org/app/users/alice/devices/D1?client_id=id&client_secret=secret", e.ConnectionByUUIDURL("org", "app", "users", "alice", "devices", "D1"))
	assert.Equal(t, "https://api.example/org/app/users/alice/likes/role/admin?client_id=id&client_secret=secret", e.ConnectionByNameURL("org", "app", "users", "alice", "likes", "role", "admin"))
	assert.Equal(t, "https://api.example/org/app/users/alice?client_id=id&client_secret=secret&connections=none", e.EntityURL("org", "app", "users", "alice"))
	assert.Equal(t, "https://api.example/org/app/users/alice?client_id=id&client_secret=secret", e.PutEntityURL("org", "app", "users", "alice"))
	assert.Equal(t, "https://api.example/org/app/users/alice/credentials", e.CredentialsURL("org", "app", "alice"))

	// path segments are escaped
	assert.Equal(t, "https://api.example/org/app/devicetokens/a%2Fb?client_id=id&client_secret=secret", e.PutEntityURL("org", "app", "devicetokens", "a/b"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://api.example/org/app?client_id=id&client_secret=REDACTED", Redact(testEndpoint.AppURL("org", "app")))
	assert.Equal(t, "https://api.example/x", Redact("https://api.example/x"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   Class
	}{
		{200, `{}`, ClassOK},
		{503, ``, ClassTransient},
		{404, ``, ClassNotFound},
		{401, `{"error":"service_resource_not_found"}`, ClassNotFound},
		{400, `{"error":"duplicate_unique_property_exists"}`, ClassDuplicate},
		{400, `{"error":"entity_unique_property_collision"}`, ClassConflict},
		{401, `{"error":"unauthorized"}`, ClassClient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.status, []byte(tt.body)), "status %d body %s", tt.status, tt.body)
	}
}

func TestQueryIteratorFollowsCursor(t *testing.T) {
	c, mt := newTestClient(t)
	u := testEndpoint.CollectionGraphURL("org", "app", "users", 2)

	mt.RegisterResponder(http.MethodGet, "https://api.example/org/app/users",
		func(req *http.Request) (*http.Response, error) {
			switch req.URL.Query().Get("cursor") {
			case "":
				return httpmock.NewStringResponse(200, `{"entities":[{"uuid":"1","type":"user"},{"uuid":"2","type":"user"}],"cursor":"c2"}`), nil
			case "c2":
				return httpmock.NewStringResponse(200, `{"entities":[{"uuid":"3","type":"user"}]}`), nil
			}
			return httpmock.NewStringResponse(500, "unexpected cursor"), nil
		})

	it := c.Query(u)
	var uuids []string
	for it.Next(context.Background()) {
		uuids = append(uuids, it.Entity().UUID)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"1", "2", "3"}, uuids)
	assert.Equal(t, 2, it.(*QueryIterator).Pages())
}

func TestQueryIteratorRetriesTransientErrors(t *testing.T) {
	c, mt := newTestClient(t)
	var calls int32

	mt.RegisterResponder(http.MethodGet, "https://api.example/org/app/users",
		func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return httpmock.NewStringResponse(503, "busy"), nil
			}
			return httpmock.NewStringResponse(200, `{"entities":[{"uuid":"1"}]}`), nil
		})

	it := c.Query(testEndpoint.CollectionGraphURL("org", "app", "users", 10))
	require.True(t, it.Next(context.Background()))
	assert.False(t, it.Next(context.Background()))
	require.NoError(t, it.Err())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueryIteratorGivesUpAfterMaxAttempts(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, "https://api.example/org/app/users", httpmock.NewStringResponder(503, "down"))

	it := c.Query(testEndpoint.CollectionGraphURL("org", "app", "users", 10))
	assert.False(t, it.Next(context.Background()))
	require.Error(t, it.Err())
	assert.ErrorIs(t, it.Err(), ErrUnexpectedStatus)
	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestQueryIteratorStopsOnClientError(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, "https://api.example/org/app/users", httpmock.NewStringResponder(401, "nope"))

	it := c.Query(testEndpoint.CollectionGraphURL("org", "app", "users", 10))
	assert.False(t, it.Next(context.Background()))
	var se *StatusError
	require.ErrorAs(t, it.Err(), &se)
	assert.Equal(t, 401, se.StatusCode)
	assert.NotContains(t, se.Error(), "secret&")
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestListAppsAndCollections(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, "https://api.example/management/organizations/org/applications",
		httpmock.NewStringResponder(200, `{"data":{"org/zeta":"u1","org/alpha":"u2"}}`))
	mt.RegisterResponder(http.MethodGet, "https://api.example/org/alpha",
		httpmock.NewStringResponder(200, `{"entities":[{"type":"application","metadata":{"collections":{"users":{},"devices":{},"roles":{}}}}]}`))

	apps, err := c.ListApps(context.Background(), "org")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, apps)

	collections, err := c.ListCollections(context.Background(), "org", "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"devices", "roles", "users"}, collections)
}

func TestDoSendsBasicAuthAndJSON(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPut, "https://api.example/org/app/users/alice/credentials",
		func(req *http.Request) (*http.Response, error) {
			user, pass, ok := req.BasicAuth()
			if !ok || user != "su" || pass != "pw" {
				return httpmock.NewStringResponse(401, "auth"), nil
			}
			if req.Header.Get("Content-Type") != "application/json" {
				return httpmock.NewStringResponse(415, "type"), nil
			}
			return httpmock.NewStringResponse(200, `{}`), nil
		})

	resp, err := c.Do(context.Background(), http.MethodPut, testEndpoint.CredentialsURL("org", "app", "alice"),
		map[string]any{"password": "x"}, &BasicAuth{Username: "su", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.NoError(t, resp.Err())
}
