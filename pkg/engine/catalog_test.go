// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package engine

import (
	"context"
	"net/http"
	"testing"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApps(t *testing.T) {
	h := newHarness(t, func(c *configs.Config) { c.Apps = []string{"app"} })
	h.respond(h.source, http.MethodGet, "https://source.example/management/organizations/org/applications", 200,
		`{"data":{"org/app":"a1","org/other":"a2"}}`)

	apps, err := h.en.Apps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, apps)
}

func TestEnsureTargetApp(t *testing.T) {
	createURL := "https://target.example/management/organizations/org/applications"

	t.Run("exists", func(t *testing.T) {
		h := newHarness(t, nil)
		h.respond(h.target, http.MethodGet, dst, 200, page(`{"type":"application","uuid":"A"}`))
		require.NoError(t, h.en.EnsureTargetApp(context.Background(), "app"))
		assert.Equal(t, 0, h.calls(http.MethodPost, createURL))
	})

	t.Run("missing", func(t *testing.T) {
		h := newHarness(t, nil)
		h.respond(h.target, http.MethodGet, dst, 404, `{"error":"service_resource_not_found"}`)
		assert.ErrorIs(t, h.en.EnsureTargetApp(context.Background(), "app"), ErrTargetAppMissing)
	})

	t.Run("created", func(t *testing.T) {
		h := newHarness(t, func(c *configs.Config) { c.CreateApps = true })
		h.respond(h.target, http.MethodGet, dst, 404, `{"error":"service_resource_not_found"}`)
		h.respond(h.target, http.MethodPost, createURL, 200, `{}`)
		require.NoError(t, h.en.EnsureTargetApp(context.Background(), "app"))
		assert.Equal(t, "app", h.lastBody(t, http.MethodPost, createURL)["name"])
	})
}

func TestCollections(t *testing.T) {
	h := newHarness(t, nil)
	h.respond(h.source, http.MethodGet, src, 200,
		page(`{"type":"application","uuid":"A","metadata":{"collections":{"users":{},"roles":{}}}}`))

	names, err := h.en.Collections(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, []string{"roles", "users"}, names)
}

func TestSelectCollections(t *testing.T) {
	all := []string{"users", "activities", "roles", "devices"}

	tests := []struct {
		name   string
		mutate func(*configs.Config)
		want   []string
	}{
		{"defaults drop ignored", nil, []string{"users", "roles", "devices"}},
		{"exclude", func(c *configs.Config) { c.ExcludeCollections = []string{"roles"} }, []string{"users", "devices"}},
		{"include overrides ignore", func(c *configs.Config) { c.Collections = []string{"activities", "users"} }, []string{"users", "activities"}},
		{"credentials users only", func(c *configs.Config) { c.Mode = configs.ModeCredentials }, []string{"users"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)
			assert.Equal(t, tt.want, h.en.SelectCollections(all))
		})
	}
}

func TestQueryURL(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, src+"/users?client_id=sid&client_secret=ssec&limit=100&ql=select+%2A+order+by+created+asc", h.en.QueryURL("app", "users"))

	h = newHarness(t, func(c *configs.Config) { c.GraphRoot = true })
	assert.Equal(t, src+"/users?client_id=sid&client_secret=ssec&limit=100", h.en.QueryURL("app", "users"))
}

func TestOperationFor(t *testing.T) {
	h := newHarness(t, nil)

	op, err := h.en.OperationFor(configs.ModeNone)
	require.NoError(t, err)
	assert.True(t, op(context.Background(), "app", "things", decode(t, `{"type":"thing","uuid":"T1"}`)))
	assert.Equal(t, 0, h.target.GetTotalCallCount())

	_, err = h.en.OperationFor("audit")
	assert.ErrorIs(t, err, configs.ErrInvalidMode)
}

func TestMigrateUserCredentials(t *testing.T) {
	h := newHarness(t, func(c *configs.Config) {
		c.Mode = configs.ModeCredentials
		c.UseNameForCollection = []string{"user"}
		c.Superuser = configs.SuperuserConfig{Username: "su", Password: "pw"}
	})
	ctx := context.Background()

	var authed int
	checkAuth := func(status int, body string) httpmock.Responder {
		return func(req *http.Request) (*http.Response, error) {
			if u, p, ok := req.BasicAuth(); ok && u == "su" && p == "pw" {
				authed++
			}
			return httpmock.NewStringResponse(status, body), nil
		}
	}
	h.source.RegisterResponder(http.MethodGet, src+"/users/alice/credentials", checkAuth(200, `{"credentials":{"hash":"x"}}`))
	h.target.RegisterResponder(http.MethodPut, dst+"/users/alice/credentials", checkAuth(200, `{}`))

	alice := decode(t, `{"type":"user","uuid":"U1","username":"alice"}`)
	require.True(t, h.en.MigrateUserCredentials(ctx, "app", "users", alice))
	assert.Equal(t, 2, authed)

	before := h.source.GetTotalCallCount()
	assert.False(t, h.en.MigrateUserCredentials(ctx, "app", "roles", alice))
	assert.Equal(t, before, h.source.GetTotalCallCount())
}

func TestReput(t *testing.T) {
	h := newHarness(t, nil)
	h.respond(h.target, http.MethodPut, dst+"/things/T1", 200, `{}`)
	h.respond(h.target, http.MethodPut, dst+"/things/T2", 500, `{}`)

	require.True(t, h.en.Reput(context.Background(), "app", "things", decode(t, `{"type":"thing","uuid":"T1","name":"n"}`)))
	assert.Empty(t, h.lastBody(t, http.MethodPut, dst+"/things/T1"))
	assert.False(t, h.en.Reput(context.Background(), "app", "things", decode(t, `{"type":"thing","uuid":"T2"}`)))
}
