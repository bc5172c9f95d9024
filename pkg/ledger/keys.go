// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package ledger

import "github.com/Project-Sylos/Graph-Migrator/pkg/db"

// Key kinds.
const (
	KindGraph      = "graph"
	KindOutEdge    = "out-edge"
	KindInEdge     = "in-edge"
	KindConnection = "connection"
)

// Keys builds versioned ledger keys. Bumping Version invalidates every previous run's markers.
type Keys struct {
	Version string
}

// Node is {version}:graph:{uuid}.
func (k Keys) Node(uuid string) string {
	return k.Version + ":" + KindGraph + ":" + uuid
}

// OutEdge is {version}:out-edge:{uuid}:{edge}.
func (k Keys) OutEdge(uuid, edge string) string {
	return k.Version + ":" + KindOutEdge + ":" + uuid + ":" + edge
}

// InEdge is {version}:in-edge:{uuid}:{edge}.
func (k Keys) InEdge(uuid, edge string) string {
	return k.Version + ":" + KindInEdge + ":" + uuid + ":" + edge
}

// Connection marks one created connection by its (credential-free) URL.
func (k Keys) Connection(url string) string {
	return k.Version + ":" + KindConnection + ":" + db.HashKey(url)
}
