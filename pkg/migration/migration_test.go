// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migration

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sourceApp = "https://source.example/org/app"
	targetApp = "https://target.example/org/app"
)

func testConfig(t *testing.T) *configs.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := configs.Default()
	cfg.Org = "org"
	cfg.RunID = "run-1"
	cfg.SourceConfig, cfg.TargetConfig = "", ""
	cfg.Source = configs.Endpoint{APIURL: "https://source.example", ClientID: "sid", ClientSecret: "ssec"}
	cfg.Target = configs.Endpoint{APIURL: "https://target.example", ClientID: "tid", ClientSecret: "tsec"}
	cfg.Workers = configs.WorkersConfig{Entity: 2, Collection: 1}
	cfg.Queue = configs.QueueConfig{Capacity: 16, HighWatermark: 12, LowWatermark: 4}
	cfg.Timing.RetrySleep = time.Millisecond
	cfg.Timing.PageSleep = 0
	cfg.Timing.EntitySleep = 0
	cfg.Database.Path = filepath.Join(dir, "migrator.db")
	cfg.Errors.Dir = filepath.Join(dir, "errors")
	cfg.Logging = configs.LoggingConfig{Level: "warning", File: filepath.Join(dir, "run.log")}

	_, err := cfg.Resolve()
	require.NoError(t, err)
	return cfg
}

// mockStore answers the catalog requests for one app with a "things" collection, and counts
// the PUTs each thing receives. putStatus decides the response per uuid.
type mockStore struct {
	mu        sync.Mutex
	puts      map[string]int
	putStatus map[string]int
}

func newMockStore(t *testing.T, things string) (*httpmock.MockTransport, *mockStore) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	s := &mockStore{puts: map[string]int{}, putStatus: map[string]int{}}

	mt.RegisterResponder(http.MethodGet, "https://source.example/management/organizations/org/applications",
		httpmock.NewStringResponder(200, `{"data":{"org/app":"A"}}`))
	mt.RegisterResponder(http.MethodGet, targetApp,
		httpmock.NewStringResponder(200, `{"entities":[{"type":"application","uuid":"A"}]}`))
	mt.RegisterResponder(http.MethodGet, sourceApp,
		httpmock.NewStringResponder(200, `{"entities":[{"type":"application","uuid":"A","metadata":{"collections":{"things":{}}}}]}`))
	mt.RegisterResponder(http.MethodGet, sourceApp+"/things", httpmock.NewStringResponder(200, things))

	for _, id := range []string{"T1", "T2"} {
		mt.RegisterResponder(http.MethodPut, targetApp+"/things/"+id, func(*http.Request) (*http.Response, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.puts[id]++
			status := s.putStatus[id]
			if status == 0 {
				status = 200
			}
			return httpmock.NewStringResponse(status, `{"error":"bad_request"}`), nil
		})
	}
	return mt, s
}

func (s *mockStore) setStatus(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putStatus[id] = status
}

func (s *mockStore) putCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[id]
}

const twoThings = `{"entities":[` +
	`{"type":"thing","uuid":"T1","created":1,"modified":1},` +
	`{"type":"thing","uuid":"T2","created":2,"modified":2}]}`

func TestLetsMigrateThenReplay(t *testing.T) {
	cfg := testConfig(t)
	mt, store := newMockStore(t, twoThings)
	store.setStatus("T2", 422)

	res, err := LetsMigrate(cfg, Options{
		Transport:       mt,
		Registry:        prometheus.NewRegistry(),
		ShutdownContext: context.Background(),
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.False(t, res.Suspended)
	assert.Equal(t, 1, res.Pipeline.Collections)
	assert.Equal(t, int64(2), res.Pipeline.Processed)
	assert.Equal(t, int64(1), res.Pipeline.Failed)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, int64(2), res.Status.Org.Count)
	assert.True(t, res.Status.Collections["app"]["things"].Finished())
	assert.Equal(t, errorsink.Path(cfg.Errors.Dir, "run-1"), res.ErrorLog)
	assert.Equal(t, 1, store.putCount("T1"))
	assert.Equal(t, 1, store.putCount("T2"), "a 422 is terminal")

	saved, err := configs.LoadConfig(res.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, "run-1", saved.RunID)
	assert.Equal(t, "org", saved.Org)

	var failed []string
	require.NoError(t, errorsink.ReadFailures(res.ErrorLog, func(f errorsink.Failure) error {
		failed = append(failed, f.UUID)
		return nil
	}))
	assert.Equal(t, []string{"T2"}, failed)

	d, err := db.Open(cfg.Database.Path)
	require.NoError(t, err)
	run, err := InspectRun(d)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.False(t, run.IsEmpty())
	assert.Empty(t, run.Unfinished())
	assert.Equal(t, int64(2), run.Orgs["org"].Count)
	assert.Contains(t, run.Queues, "entities")

	// The target recovers; replaying the failure log migrates T2 under a new run.
	store.setStatus("T2", 200)
	cfg.RunID = "run-2"
	rep, err := Replay(context.Background(), cfg, Options{Transport: mt, Registry: prometheus.NewRegistry()}, res.ErrorLog)
	require.NoError(t, err)
	assert.Equal(t, "run-2", rep.RunID)
	assert.Equal(t, int64(1), rep.Replayed)
	assert.Equal(t, int64(1), rep.Succeeded)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 2, store.putCount("T2"))
	assert.Equal(t, 1, store.putCount("T1"), "only failed entities are replayed")
}

func TestRerunSkipsMigratedEntities(t *testing.T) {
	cfg := testConfig(t)
	mt, store := newMockStore(t, twoThings)
	opts := func() Options {
		return Options{Transport: mt, Registry: prometheus.NewRegistry(), ShutdownContext: context.Background()}
	}

	_, err := LetsMigrate(cfg, opts())
	require.NoError(t, err)

	cfg.RunID = "run-2"
	res, err := LetsMigrate(cfg, opts())
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Pipeline.Processed)
	assert.Zero(t, res.Pipeline.Failed)
	assert.Equal(t, 1, store.putCount("T1"), "the run database remembers what was migrated")
	assert.Equal(t, 1, store.putCount("T2"))
}

func TestReplayIntoOwnLogUsesSuffix(t *testing.T) {
	cfg := testConfig(t)
	mt, store := newMockStore(t, twoThings)
	store.setStatus("T1", 422)

	sink, err := errorsink.Open(cfg.Errors.Dir, cfg.RunID, errorsink.Options{})
	require.NoError(t, err)
	require.NoError(t, sink.Write(errorsink.Failure{RunID: cfg.RunID, App: "app", Collection: "things", Reason: "no entity"}))
	_, err = LetsMigrate(cfg, Options{Transport: mt, Registry: prometheus.NewRegistry(), ShutdownContext: context.Background()})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	rep, err := Replay(context.Background(), cfg, Options{Transport: mt, Registry: prometheus.NewRegistry()}, sink.Path())
	require.NoError(t, err)
	assert.Equal(t, "run-1-replay", rep.RunID)
	assert.Equal(t, int64(1), rep.Skipped)
	assert.Equal(t, int64(1), rep.Replayed)
	assert.Equal(t, int64(1), rep.Failed)
	assert.Equal(t, errorsink.Path(cfg.Errors.Dir, "run-1-replay"), rep.ErrorLog)
}

func TestLetsMigrateSuspendsOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	mt, _ := newMockStore(t, twoThings)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := LetsMigrate(cfg, Options{Transport: mt, Registry: prometheus.NewRegistry(), ShutdownContext: ctx})
	require.NoError(t, err)
	assert.True(t, res.Suspended)
}

func TestStartMigrationController(t *testing.T) {
	cfg := testConfig(t)
	mt, _ := newMockStore(t, twoThings)

	mc := StartMigration(cfg, Options{Transport: mt, Registry: prometheus.NewRegistry()})
	mc.Shutdown()
	mc.Shutdown()

	select {
	case <-mc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("migration did not stop after shutdown")
	}
	res, err := mc.Wait()
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
}

func TestLetsMigrateRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Org = ""
	_, err := LetsMigrate(cfg, Options{ShutdownContext: context.Background()})
	assert.ErrorIs(t, err, configs.ErrMissingOrg)
	_, statErr := os.Stat(cfg.Database.Path)
	assert.True(t, os.IsNotExist(statErr), "nothing is opened for an invalid config")
}

func TestSetupDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")

	d, fresh, err := SetupDatabase(configs.DatabaseConfig{Path: path})
	require.NoError(t, err)
	assert.True(t, fresh)
	require.NoError(t, d.PutStatusSnapshot("org:org", []byte(`{"count":1}`)))
	require.NoError(t, d.Close())

	d, fresh, err = SetupDatabase(configs.DatabaseConfig{Path: path})
	require.NoError(t, err)
	assert.False(t, fresh)
	got, err := d.GetStatusSnapshot("org:org")
	require.NoError(t, err)
	assert.NotNil(t, got)
	require.NoError(t, d.Close())

	d, fresh, err = SetupDatabase(configs.DatabaseConfig{Path: path, RemoveExisting: true})
	require.NoError(t, err)
	assert.True(t, fresh)
	got, err = d.GetStatusSnapshot("org:org")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, d.Close())

	_, _, err = SetupDatabase(configs.DatabaseConfig{})
	assert.Error(t, err)
}

func TestMetricsServer(t *testing.T) {
	s, err := StartMetricsServer("127.0.0.1:0", NewRegistry())
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestUnfinishedCollections(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.PutStatusSnapshot("collection:app/users",
		[]byte(`{"app":"app","collection":"users","count":3,"iteration_started":"2025-03-01T12:00:00Z"}`)))
	require.NoError(t, d.PutStatusSnapshot("collection:app/roles",
		[]byte(`{"app":"app","collection":"roles","count":1,"iteration_started":"2025-03-01T12:00:00Z","iteration_finished":"2025-03-01T12:01:00Z"}`)))
	require.NoError(t, d.PutStatusSnapshot("app:app", []byte(`{"count":4}`)))
	require.NoError(t, d.PutStatusSnapshot("collection:app/broken", []byte(`nope`)))

	run, err := InspectRun(d)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/users"}, run.Unfinished())
	assert.Equal(t, int64(4), run.Apps["app"].Count)
	assert.Len(t, run.Collections, 2)
}
