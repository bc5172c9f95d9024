// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package engine migrates entities and their relationship graph from a source store to a target store.
//
// The graph traversal (MigrateGraph) is recursive per branch and carries an explicit depth.
// Cycles are broken only by the visited ledger, never by call-stack state, so a traversal may
// safely be re-entered from any root by any number of concurrent workers.
//
// Every target write is an idempotent PUT (or connection POST) to a deterministic URL, which is
// what makes at-least-once delivery from the pipeline safe.
package engine

import (
	"context"
	"fmt"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
	"github.com/Project-Sylos/Graph-Migrator/pkg/ledger"
	"github.com/Project-Sylos/Graph-Migrator/pkg/logservice"
	"github.com/Project-Sylos/Graph-Migrator/pkg/usergrid"
)

// maxAttempts bounds every retry loop in the engine.
const maxAttempts = 5

// Operation is the unit of work an entity worker applies to one entity.
type Operation func(ctx context.Context, app, collection string, e *entity.Entity) bool

// Engine holds the run configuration and the clients shared by every operation. Safe for concurrent use.
type Engine struct {
	cfg    *configs.Config
	source *usergrid.Client
	target *usergrid.Client
	query  usergrid.QuerySource
	ledger *ledger.Ledger
}

// New creates an engine. l may be nil, in which case nothing is cached.
func New(cfg *configs.Config, source, target *usergrid.Client, l *ledger.Ledger) *Engine {
	if l == nil {
		l = ledger.Disabled(cfg.Cache.KeyVersion)
	}
	return &Engine{cfg: cfg, source: source, target: target, query: source, ledger: l}
}

// WithQuerySource replaces the source used for paged queries.
func (en *Engine) WithQuerySource(q usergrid.QuerySource) *Engine {
	en.query = q
	return en
}

// Config returns the run configuration.
func (en *Engine) Config() *configs.Config {
	return en.cfg
}

// Ledger returns the visited ledger.
func (en *Engine) Ledger() *ledger.Ledger {
	return en.ledger
}

// Source returns the source client.
func (en *Engine) Source() *usergrid.Client {
	return en.source
}

// OperationFor returns the operation for a migrate mode. ModeNone iterates without migrating.
func (en *Engine) OperationFor(mode configs.Mode) (Operation, error) {
	switch mode {
	case configs.ModeData:
		return en.MigrateData, nil
	case configs.ModeGraph:
		return func(ctx context.Context, app, collection string, e *entity.Entity) bool {
			return en.MigrateGraph(ctx, app, collection, e, 0)
		}, nil
	case configs.ModeCredentials:
		return en.MigrateUserCredentials, nil
	case configs.ModeReput:
		return en.Reput, nil
	case configs.ModeNone:
		return func(context.Context, string, string, *entity.Entity) bool { return true }, nil
	}
	return nil, fmt.Errorf("%w: %q", configs.ErrInvalidMode, mode)
}

// targetOf maps a source (app, collection) to the target (org, app, collection).
func (en *Engine) targetOf(app, collection string) (string, string, string) {
	return en.cfg.TargetOrg(), en.cfg.TargetApp(app), en.cfg.TargetCollection(collection)
}

// SourceIdentifier returns the path identifier of an entity: its username (users) or name when
// its type is addressed by name, its uuid otherwise.
func (en *Engine) SourceIdentifier(e *entity.Entity) string {
	if !en.cfg.UseName(e.Type) {
		return e.UUID
	}
	id := e.Name
	if e.Type == "user" {
		id = e.Username
	}
	if id == "" {
		logEntity("warning", fmt.Sprintf("Using UUID for entity [%s / %s]", e.Type, e.UUID), e.UUID)
		return e.UUID
	}
	return id
}

// primaryKey is the property that must be unique within a target collection.
func primaryKey(targetCollection string) string {
	switch targetCollection {
	case "users", "user":
		return entity.FieldUsername
	case "roles", "role":
		return entity.FieldName
	}
	return entity.FieldUUID
}

func isUsers(collection string) bool {
	return collection == "users" || collection == "user"
}

func isRoles(collection string) bool {
	return collection == "roles" || collection == "role"
}

func (en *Engine) retrySleep(ctx context.Context) error {
	return usergrid.Sleep(ctx, en.cfg.Timing.RetrySleep)
}

func logEntity(level, message, entityID string) {
	if logservice.LS != nil {
		_ = logservice.LS.Log(level, message, "entity", entityID, "entity")
	}
}
