// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is one REST cluster plus the org credentials sent as query parameters.
type Endpoint struct {
	APIURL       string
	ClientID     string
	ClientSecret string
}

// build joins escaped path segments under the API URL and appends the credential query.
func (e Endpoint) build(extra url.Values, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(e.APIURL, "/"))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}

	q := url.Values{}
	if e.ClientID != "" {
		q.Set("client_id", e.ClientID)
	}
	if e.ClientSecret != "" {
		q.Set("client_secret", e.ClientSecret)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if len(q) > 0 {
		b.WriteByte('?')
		b.WriteString(q.Encode())
	}
	return b.String()
}

// AppsURL lists (GET) or creates (POST) the applications of an org.
// Format: {api}/management/organizations/{org}/applications
func (e Endpoint) AppsURL(org string) string {
	return e.build(nil, "management", "organizations", org, "applications")
}

// AppURL addresses an application; its entity lists the app's collections.
// Format: {api}/{org}/{app}
func (e Endpoint) AppURL(org, app string) string {
	return e.build(nil, org, app)
}

// CollectionQueryURL pages a collection with a query.
// Format: {api}/{org}/{app}/{collection}?ql={ql}&limit={limit}
func (e Endpoint) CollectionQueryURL(org, app, collection, ql string, limit int) string {
	q := url.Values{}
	q.Set("ql", ql)
	q.Set("limit", strconv.Itoa(limit))
	return e.build(q, org, app, collection)
}

// CollectionGraphURL pages a collection through the graph (no query index).
// Format: {api}/{org}/{app}/{collection}?limit={limit}
func (e Endpoint) CollectionGraphURL(org, app, collection string, limit int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	return e.build(q, org, app, collection)
}

// ConnectionQueryURL lists the targets of an out-edge.
// Format: {api}/{org}/{app}/{collection}/{id}/{verb}
func (e Endpoint) ConnectionQueryURL(org, app, collection, id, verb string) string {
	return e.build(nil, org, app, collection, id, verb)
}

// ConnectingQueryURL lists the sources of an in-edge.
// Format: {api}/{org}/{app}/{collection}/{id}/connecting/{verb}
func (e Endpoint) ConnectingQueryURL(org, app, collection, id, verb string) string {
	return e.build(nil, org, app, collection, id, "connecting", verb)
}

// ConnectionByUUIDURL creates a connection to a target addressed by uuid.
// Format: {api}/{org}/{app}/{collection}/{id}/{verb}/{targetUUID}
func (e Endpoint) ConnectionByUUIDURL(org, app, collection, id, verb, targetUUID string) string {
	return e.build(nil, org, app, collection, id, verb, targetUUID)
}

// ConnectionByNameURL creates a connection to a target addressed by type and name.
// Format: {api}/{org}/{app}/{collection}/{id}/{verb}/{targetType}/{targetName}
func (e Endpoint) ConnectionByNameURL(org, app, collection, id, verb, targetType, targetName string) string {
	return e.build(nil, org, app, collection, id, verb, targetType, targetName)
}

// EntityURL reads (without connections) or deletes a single entity.
// Format: {api}/{org}/{app}/{collection}/{id}?connections=none
func (e Endpoint) EntityURL(org, app, collection, id string) string {
	q := url.Values{}
	q.Set("connections", "none")
	return e.build(q, org, app, collection, id)
}

// PutEntityURL upserts a single entity.
// Format: {api}/{org}/{app}/{collection}/{id}
func (e Endpoint) PutEntityURL(org, app, collection, id string) string {
	return e.build(nil, org, app, collection, id)
}

// CredentialsURL reads or writes a user's credentials. This endpoint uses basic auth
// instead of the client credentials.
// Format: {api}/{org}/{app}/users/{id}/credentials
func (e Endpoint) CredentialsURL(org, app, id string) string {
	plain := Endpoint{APIURL: e.APIURL}
	return plain.build(nil, org, app, "users", id, "credentials")
}

// Redact hides the client secret in a URL so it can be logged.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("client_secret") {
		q.Set("client_secret", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
