// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package configs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ClientCredentials are the per-org application credentials sent with every request.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// EndpointFile is the on-disk layout of a source or target endpoint file.
//
//	{"endpoint": {"api_url": "https://api.example.com"},
//	 "credentials": {"my-org": {"client_id": "...", "client_secret": "..."}}}
type EndpointFile struct {
	Endpoint struct {
		APIURL string `json:"api_url"`
	} `json:"endpoint"`
	Credentials map[string]ClientCredentials `json:"credentials"`
}

// Endpoint is an endpoint resolved for one org.
type Endpoint struct {
	APIURL       string
	ClientID     string
	ClientSecret string
}

// LoadEndpointFile reads an endpoint file.
func LoadEndpointFile(path string) (*EndpointFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoint config %s: %w", path, err)
	}

	var f EndpointFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse endpoint config %s: %w", path, err)
	}
	if f.Endpoint.APIURL == "" {
		return nil, fmt.Errorf("endpoint config %s has no endpoint.api_url", path)
	}
	return &f, nil
}

// For resolves the endpoint for an org.
func (f *EndpointFile) For(org string) (Endpoint, error) {
	creds, ok := f.Credentials[org]
	if !ok {
		return Endpoint{}, fmt.Errorf("no credentials for org %q", org)
	}
	return Endpoint{
		APIURL:       strings.TrimRight(f.Endpoint.APIURL, "/"),
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}, nil
}
