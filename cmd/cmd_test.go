// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, cfg *configs.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, configs.SaveConfig(path, cfg))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := RootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoadConfigPrecedence(t *testing.T) {
	base := configs.Default()
	base.Org = "yaml-org"
	base.Workers.Entity = 3
	base.Graph.MaxDepth = 5
	path := writeConfig(t, base)

	t.Setenv("MIGRATOR_WORKERS_ENTITY", "7")
	t.Setenv("MIGRATOR_ERRORS_DIR", "/var/errors")

	v := newViper()
	v.Set("config", path)
	cfg, err := loadConfig(v, false, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "yaml-org", cfg.Org)
	assert.Equal(t, 5, cfg.Graph.MaxDepth)
	assert.Equal(t, 7, cfg.Workers.Entity, "environment overrides the file")
	assert.Equal(t, "/var/errors", cfg.Errors.Dir)
	assert.Equal(t, configs.Default().Workers.Collection, cfg.Workers.Collection)
}

func TestLoadConfigResolvesEndpoints(t *testing.T) {
	dir := t.TempDir()
	endpoints := filepath.Join(dir, "source.json")
	require.NoError(t, os.WriteFile(endpoints, []byte(
		`{"endpoint":{"api_url":"https://api.example"},"credentials":{"org":{"client_id":"id","client_secret":"secret"}}}`), 0o600))

	base := configs.Default()
	base.Org = "org"
	base.SourceConfig = endpoints
	base.TargetConfig = endpoints
	base.Mapping.Apps = []string{"a:b", "malformed"}
	path := writeConfig(t, base)

	v := newViper()
	v.Set("config", path)
	var warn bytes.Buffer
	cfg, err := loadConfig(v, true, &warn)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example", cfg.Source.APIURL)
	assert.Equal(t, "id", cfg.Target.ClientID)
	assert.NotEmpty(t, cfg.RunID)
	assert.Equal(t, "b", cfg.TargetApp("a"))
	assert.Contains(t, warn.String(), `"malformed"`)
}

func TestLoadConfigMissingFile(t *testing.T) {
	v := newViper()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loadConfig(v, false, io.Discard)
	assert.Error(t, err)
}

func seedRunDatabase(t *testing.T, path string) {
	t.Helper()
	d, err := db.Open(path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.PutStatusSnapshot("org:org", []byte(`{"count":3,"bytes":120}`)))
	require.NoError(t, d.PutStatusSnapshot("app:app", []byte(`{"app":"app","count":3,"bytes":120}`)))
	require.NoError(t, d.PutStatusSnapshot("collection:app/users",
		[]byte(`{"app":"app","collection":"users","count":2,"bytes":80,"iteration_started":"2025-03-01T12:00:00Z","iteration_finished":"2025-03-01T12:01:00Z"}`)))
	require.NoError(t, d.PutStatusSnapshot("collection:app/roles",
		[]byte(`{"app":"app","collection":"roles","count":1,"bytes":40,"iteration_started":"2025-03-01T12:00:00Z"}`)))
	require.NoError(t, d.PutQueueStats("entities", []byte(`{"name":"entities","state":"closed","capacity":16,"pushed":3,"popped":3}`)))
}

func TestInspectCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "run.db")
	seedRunDatabase(t, dbPath)

	out, err := run(t, "inspect", "--db", dbPath)
	require.NoError(t, err)

	assert.Contains(t, out, dbPath)
	assert.Contains(t, out, "app/users")
	assert.Contains(t, out, "pushed=3 popped=3")
	assert.Contains(t, out, "INCOMPLETE")
	assert.Contains(t, out, "  - app/roles")
}

func TestInspectCommandCountsLogsOfOneRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "run.db")
	seedRunDatabase(t, dbPath)

	d, err := db.Open(dbPath)
	require.NoError(t, err)
	for _, runID := range []string{"run-1", "run-2", "run-2"} {
		lb := db.NewLogBuffer(d, db.LogBufferOptions{RunID: runID})
		lb.Add(db.LogEntry{Level: "error", Message: "failed"})
		lb.Stop()
	}
	require.NoError(t, d.Close())

	out, err := run(t, "inspect", "--db", dbPath, "--run-id", "run-2")
	require.NoError(t, err)
	assert.Contains(t, out, "LOGS (run run-2):")
	assert.Regexp(t, `error\s+2\n`, out)
}

func TestInspectCommandMissingDatabase(t *testing.T) {
	_, err := run(t, "inspect", "--db", filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "run.db")
	seedRunDatabase(t, dbPath)

	sink, err := errorsink.Open(dir, "run-1", errorsink.Options{})
	require.NoError(t, err)
	e := entity.New("user")
	e.UUID = "U1"
	e.Username = "alice"
	require.NoError(t, sink.Write(errorsink.NewFailure("run-1", "app", "users", e, "PUT failed")))
	require.NoError(t, sink.Close())

	output := filepath.Join(dir, "out.sqlite")
	out, err := run(t, "export", "--db", dbPath, "--errors-dir", dir, "--run-id", "run-1",
		"--format", "sqlite", "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "1 failures, 4 snapshots, 1 queue stats")
	assert.FileExists(t, output)
}

func TestMigrateRequiresOrg(t *testing.T) {
	base := configs.Default()
	base.SourceConfig, base.TargetConfig = "", ""
	base.Database.Path = filepath.Join(t.TempDir(), "run.db")
	path := writeConfig(t, base)

	_, err := run(t, "migrate", "--config", path)
	assert.ErrorIs(t, err, configs.ErrMissingOrg)
}

func TestListenRejectsUnknownLevel(t *testing.T) {
	_, err := run(t, "listen", "--address", "127.0.0.1:0", "--level", "loud")
	assert.ErrorContains(t, err, "invalid threshold level")
}
