// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package errorsink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) *entity.Entity {
	t.Helper()
	e, err := entity.Decode([]byte(raw))
	require.NoError(t, err)
	return e
}

func readAll(t *testing.T, path string) []Failure {
	t.Helper()
	var out []Failure
	require.NoError(t, ReadFailures(path, func(f Failure) error {
		out = append(out, f)
		return nil
	}))
	return out
}

func TestRunWritesFailuresUntilClosed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "errors")
	sink, err := Open(dir, "run-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1_errors.txt"), sink.Path())

	failures := make(chan Failure, 2)
	failures <- NewFailure("run-1", "app", "users", decode(t, `{"type":"user","uuid":"U1","username":"alice","metadata":{"connections":["devices"]}}`), "upsert failed")
	failures <- NewFailure("run-1", "app", "things", decode(t, `{"type":"thing","uuid":"T1"}`), "panic: boom")
	close(failures)

	require.NoError(t, sink.Run(context.Background(), failures))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.Equal(t, 2, sink.Count())

	got := readAll(t, sink.Path())
	require.Len(t, got, 2)
	assert.Equal(t, "U1", got[0].UUID)
	assert.Equal(t, "user", got[0].Type)
	assert.Equal(t, "upsert failed", got[0].Reason)
	require.NotNil(t, got[0].Entity)
	assert.Equal(t, "alice", got[0].Entity.Username)
	assert.Equal(t, []string{"devices"}, got[0].Entity.OutEdges())
	assert.Equal(t, "things", got[1].Collection)
}

func TestOpenAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		sink, err := Open(dir, "run", Options{})
		require.NoError(t, err)
		require.NoError(t, sink.Write(NewFailure("run", "app", "things", decode(t, `{"type":"thing","uuid":"T1"}`), "x")))
		require.NoError(t, sink.Close())
	}
	assert.Len(t, readAll(t, Path(dir, "run")), 2)
}

func TestWriteAfterClose(t *testing.T) {
	sink, err := Open(t.TempDir(), "run", Options{})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Write(Failure{UUID: "x"}), ErrClosed)
}

func TestRunExitsAfterIdleLimit(t *testing.T) {
	sink, err := Open(t.TempDir(), "run", Options{IdleTimeout: 5 * time.Millisecond, IdleLimit: 2})
	require.NoError(t, err)
	defer sink.Close()

	done := make(chan error, 1)
	go func() { done <- sink.Run(context.Background(), make(chan Failure)) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not exit on idle")
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	sink, err := Open(t.TempDir(), "run", Options{IdleTimeout: time.Hour})
	require.NoError(t, err)

	failures := make(chan Failure, 1)
	failures <- Failure{UUID: "queued"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sink.Run(ctx, failures), context.Canceled)
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, sink.Count())
}

func TestReadFailuresSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.txt")
	content := `{"uuid":"A","app":"app"}` + "\n" + "not json\n\n" + `{"uuid":"B","app":"app"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got := readAll(t, path)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].UUID)
	assert.Equal(t, "B", got[1].UUID)

	stop := errors.New("stop")
	assert.ErrorIs(t, ReadFailures(path, func(Failure) error { return stop }), stop)
	assert.Error(t, ReadFailures(filepath.Join(t.TempDir(), "missing.txt"), func(Failure) error { return nil }))
}
