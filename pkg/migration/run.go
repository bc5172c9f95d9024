// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
	"github.com/Project-Sylos/Graph-Migrator/pkg/engine"
	"github.com/Project-Sylos/Graph-Migrator/pkg/errorsink"
	"github.com/Project-Sylos/Graph-Migrator/pkg/ledger"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/queue"
	"github.com/Project-Sylos/Graph-Migrator/pkg/status"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
	"github.com/prometheus/client_golang/prometheus"
)

// Options carries what a caller can inject into a run instead of having it built from the
// configuration. Every field is optional.
type Options struct {
	// DatabaseInstance is an open run database. It is not closed by the run.
	DatabaseInstance *db.DB
	// Transport is used by both REST clients. Nil uses a pooled transport.
	Transport http.RoundTripper
	// Registry receives the run's metrics. Nil creates one with the runtime collectors.
	Registry *prometheus.Registry
	// ShutdownContext cancels the run. When nil, LetsMigrate listens for SIGINT/SIGTERM.
	ShutdownContext context.Context
}

// environment is everything a run (or replay) needs, built once from the configuration.
type environment struct {
	cfg           *configs.Config
	db            *db.DB
	wasFresh      bool
	ledger        *ledger.Ledger
	engine        *engine.Engine
	operation     engine.Operation
	registry      *prometheus.Registry
	queueMetrics  *queue.Metrics
	statusMetrics *status.Metrics
	metrics       *MetricsServer

	closers []func()
}

// setup validates cfg and wires database, logger, ledger, clients, engine and metrics.
// On error, everything opened so far is closed again.
func setup(ctx context.Context, cfg *configs.Config, opts Options) (env *environment, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	env = &environment{cfg: cfg}
	defer func() {
		if err != nil {
			env.close()
			env = nil
		}
	}()

	env.db = opts.DatabaseInstance
	if env.db == nil {
		d, fresh, err := SetupDatabase(cfg.Database)
		if err != nil {
			return env, err
		}
		env.db, env.wasFresh = d, fresh
		env.onClose(func() {
			if err := d.Close(); err != nil {
				logMigration("warning", fmt.Sprintf("Failed to close database: %v", err))
			}
		})
	}

	if logservice.LS == nil {
		if err := logservice.InitGlobalLogger(env.db, cfg.Logging, cfg.RunID); err != nil {
			return env, err
		}
		env.onClose(logservice.CloseGlobalLogger)
	}

	env.ledger = ledger.Open(ctx, cfg.Cache, env.db)
	env.onClose(func() {
		if err := env.ledger.Close(); err != nil {
			logMigration("warning", fmt.Sprintf("Failed to close ledger: %v", err))
		}
	})

	source := newClient(cfg.Source, cfg, opts.Transport)
	target := newClient(cfg.Target, cfg, opts.Transport)
	env.engine = engine.New(cfg, source, target, env.ledger)
	if env.operation, err = env.engine.OperationFor(cfg.Mode); err != nil {
		return env, err
	}

	env.registry = opts.Registry
	if env.registry == nil {
		env.registry = NewRegistry()
	}
	if env.queueMetrics, err = queue.NewMetrics(env.registry); err != nil {
		return env, fmt.Errorf("failed to register queue metrics: %w", err)
	}
	if env.statusMetrics, err = status.NewMetrics(env.registry); err != nil {
		return env, fmt.Errorf("failed to register status metrics: %w", err)
	}
	if cfg.Metrics.Address != "" {
		if env.metrics, err = StartMetricsServer(cfg.Metrics.Address, env.registry); err != nil {
			return env, err
		}
		env.onClose(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = env.metrics.Shutdown(shutdownCtx)
		})
	}
	return env, nil
}

func (env *environment) onClose(fn func()) {
	env.closers = append(env.closers, fn)
}

// close runs the closers in reverse order.
func (env *environment) close() {
	for i := len(env.closers) - 1; i >= 0; i-- {
		env.closers[i]()
	}
	env.closers = nil
}

func newClient(ep configs.Endpoint, cfg *configs.Config, transport http.RoundTripper) *usergrid.Client {
	return usergrid.New(usergrid.Endpoint(ep), &usergrid.Config{
		Timeout:           cfg.HTTP.Timeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Transport:         transport,
		RetrySleep:        cfg.Timing.RetrySleep,
		PageSleep:         cfg.Timing.PageSleep,
		MaxAttempts:       cfg.HTTP.MaxAttempts,
	})
}

func openSink(cfg *configs.Config, runID string) (*errorsink.Sink, error) {
	return errorsink.Open(cfg.Errors.Dir, runID, errorsink.Options{
		IdleTimeout: cfg.Timing.ErrorIdleTimeout,
		IdleLimit:   cfg.Timing.ErrorIdleLimit,
	})
}

// RunConfigPath is where a run's configuration is saved, next to its failure log.
func RunConfigPath(dir, runID string) string {
	return filepath.Join(dir, runID+"_config.yaml")
}

// saveRunConfig writes cfg without the superuser password, so a replay can reuse it.
func saveRunConfig(cfg *configs.Config) (string, error) {
	saved := *cfg
	saved.Superuser.Password = ""
	path := RunConfigPath(cfg.Errors.Dir, cfg.RunID)
	if err := configs.SaveConfig(path, &saved); err != nil {
		return "", err
	}
	return path, nil
}

// runPipeline runs the pipeline once over env. Cancellation of ctx is reported as
// Suspended, not as an error.
func (env *environment) runPipeline(ctx context.Context) (Result, error) {
	cfg := env.cfg
	res := Result{RunID: cfg.RunID, Mode: cfg.Mode}

	if !env.wasFresh {
		if prev, err := InspectRun(env.db); err == nil {
			if unfinished := prev.Unfinished(); len(unfinished) > 0 {
				logMigration("warning", fmt.Sprintf("Previous run left %d collections unfinished %v; the ledger skips what it completed",
					len(unfinished), unfinished))
			}
		}
	}

	if path, err := saveRunConfig(cfg); err != nil {
		logMigration("warning", fmt.Sprintf("Failed to save run configuration: %v", err))
	} else {
		res.ConfigFile = path
	}

	aggregator := status.NewAggregator(status.Options{
		Org:         cfg.Org,
		IdleTimeout: cfg.Timing.StatusIdleTimeout,
		IdleLimit:   cfg.Timing.StatusIdleLimit,
		Store:       env.db,
		Metrics:     env.statusMetrics,
	})
	sink, err := openSink(cfg, cfg.RunID)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logMigration("warning", fmt.Sprintf("Failed to close error log: %v", err))
		}
	}()
	res.ErrorLog = sink.Path()

	pipeline, err := queue.New(cfg, queue.Options{
		Catalog:    env.engine,
		Source:     env.engine,
		Operation:  env.operation,
		Aggregator: aggregator,
		Sink:       sink,
		Metrics:    env.queueMetrics,
		Store:      env.db,
	})
	if err != nil {
		return res, err
	}

	logMigration("info", fmt.Sprintf("Starting %s migration of org %s (run %s, %d collection workers, %d entity workers)",
		cfg.Mode, cfg.Org, cfg.RunID, cfg.Workers.Collection, cfg.Workers.Entity))

	res.Pipeline, err = pipeline.Run(ctx)
	res.Status = aggregator.Snapshot()
	res.Failures = sink.Count()
	res.LedgerDegraded = env.ledger.Degraded()

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		res.Suspended = true
		logMigration("warning", fmt.Sprintf("Run %s suspended after %d entities; rerun to continue", cfg.RunID, res.Pipeline.Processed))
		return res, nil
	}
	return res, err
}
