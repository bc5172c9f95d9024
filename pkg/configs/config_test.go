// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMappingsSkipsMalformed(t *testing.T) {
	m, skipped := ParseMappings([]string{"apples:oranges", "bad", "a:b:c", ":x", "cats:dogs"})

	assert.Equal(t, map[string]string{"apples": "oranges", "cats": "dogs"}, m)
	assert.Equal(t, []string{"bad", "a:b:c", ":x"}, skipped)
}

func TestTargetMappings(t *testing.T) {
	cfg := Default()
	cfg.Org = "red"
	cfg.SourceConfig, cfg.TargetConfig = "", ""
	cfg.Mapping = MappingConfig{
		Orgs:        []string{"red:blue"},
		Apps:        []string{"apples:oranges"},
		Collections: []string{"cats:dogs"},
	}
	_, err := cfg.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "blue", cfg.TargetOrg())
	assert.Equal(t, "oranges", cfg.TargetApp("apples"))
	assert.Equal(t, "pears", cfg.TargetApp("pears"))
	assert.Equal(t, "dogs", cfg.TargetCollection("cats"))
	assert.Equal(t, "users", cfg.TargetCollection("users"))
	assert.NotEmpty(t, cfg.RunID)

	cfg.Mapping.TargetApp = "single"
	assert.Equal(t, "single", cfg.TargetApp("apples"))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingOrg)

	cfg.Org = "org"
	require.NoError(t, cfg.Validate())

	cfg.Mode = "audit"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMode)

	cfg.Mode = ModeCredentials
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSuperuser)
	cfg.Superuser = SuperuserConfig{Username: "su", Password: "pw"}
	require.NoError(t, cfg.Validate())

	cfg.Queue.LowWatermark = cfg.Queue.HighWatermark + 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidWatermarks)
	cfg.Queue = QueueConfig{Capacity: 10, HighWatermark: 8, LowWatermark: 2}
	require.NoError(t, cfg.Validate())

	cfg.Cache.Backend = "redis"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCache)
}

func TestLoadSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "migration.yaml")

	cfg := Default()
	cfg.Org = "acme"
	cfg.Mode = ModeGraph
	cfg.Graph.MaxDepth = 3
	cfg.Cache.VisitTTL = 90 * time.Minute
	cfg.UseNameForCollection = []string{"roles"}
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", loaded.Org)
	assert.Equal(t, ModeGraph, loaded.Mode)
	assert.Equal(t, 3, loaded.Graph.MaxDepth)
	assert.Equal(t, 90*time.Minute, loaded.Cache.VisitTTL)
	assert.True(t, loaded.UseName("roles"))
	assert.False(t, loaded.UseName("users"))
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("org: acme\nworkers:\n  entity: 4\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers.Entity)
	assert.Equal(t, 2, cfg.Workers.Collection)
	assert.Equal(t, 100, cfg.Limit)
	assert.Equal(t, "select * order by created asc", cfg.QL)
	assert.Equal(t, CacheBolt, cfg.Cache.Backend, "the ledger persists in the run database by default")
}

func TestEndpointFileResolve(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.json")
	dst := filepath.Join(dir, "destination.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"endpoint":{"api_url":"https://src.example/"},"credentials":{"red":{"client_id":"sid","client_secret":"ssec"}}}`), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte(`{"endpoint":{"api_url":"https://dst.example"},"credentials":{"blue":{"client_id":"did","client_secret":"dsec"}}}`), 0o600))

	cfg := Default()
	cfg.Org = "red"
	cfg.SourceConfig, cfg.TargetConfig = src, dst
	cfg.Mapping.Orgs = []string{"red:blue"}
	_, err := cfg.Resolve()
	require.NoError(t, err)

	assert.Equal(t, Endpoint{APIURL: "https://src.example", ClientID: "sid", ClientSecret: "ssec"}, cfg.Source)
	assert.Equal(t, Endpoint{APIURL: "https://dst.example", ClientID: "did", ClientSecret: "dsec"}, cfg.Target)

	missing := Default()
	missing.Org = "green"
	missing.SourceConfig = src
	_, err = missing.Resolve()
	assert.Error(t, err)
}
