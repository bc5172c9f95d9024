// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package migration

import (
	"fmt"
	"os"

	"github.com/Project-Sylos/Graph-Migrator/pkg/configs"
	"github.com/Project-Sylos/Graph-Migrator/pkg/db"
)

// SetupDatabase opens the run database (logs, status snapshots, queue stats and, with the bolt
// cache backend, the ledger). Returns whether the database is fresh: either removed first
// because of RemoveExisting, or not there before. The caller closes it.
func SetupDatabase(cfg configs.DatabaseConfig) (*db.DB, bool, error) {
	if cfg.Path == "" {
		return nil, false, fmt.Errorf("database path cannot be empty")
	}

	if cfg.RemoveExisting {
		database, err := db.OpenFresh(cfg.Path)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create database %s: %w", cfg.Path, err)
		}
		return database, true, nil
	}

	wasFresh := false
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		wasFresh = true
	}

	database, err := db.Open(cfg.Path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}
	return database, wasFresh, nil
}
