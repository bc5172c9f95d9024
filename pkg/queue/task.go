// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"github.com/Project-Sylos/Graph-Migrator/pkg/entity"
)

// Queue names, also used as the log queue tag and the queue-stats key.
const (
	QueueCollections = "collections"
	QueueEntities    = "entities"
)

// CollectionTask asks a collection worker to page one collection of an app.
type CollectionTask struct {
	App        string
	Collection string
}

// String returns "app/collection".
func (t CollectionTask) String() string {
	return t.App + "/" + t.Collection
}

// EntityMessage carries one source entity to the entity workers.
type EntityMessage struct {
	App        string
	Collection string
	Entity     *entity.Entity
}
