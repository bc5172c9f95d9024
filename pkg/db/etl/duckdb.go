// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package etl

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/marcboeker/go-duckdb"
)

// DuckDB wraps a DuckDB database with a raw connection for the Appender API.
type DuckDB struct {
	db     *sql.DB
	conn   driver.Conn
	mu     sync.Mutex
	dbPath string
}

// OpenDuckDB opens or creates a DuckDB database. The sql.DB and the appender connection
// share one connector, so both see the same database instance.
func OpenDuckDB(ctx context.Context, dbPath string) (*DuckDB, error) {
	connector, err := duckdb.NewConnector(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	conn, err := connector.Connect(ctx)
	if err != nil {
		connector.Close()
		return nil, fmt.Errorf("failed to connect to DuckDB: %w", err)
	}

	return &DuckDB{
		db:     sql.OpenDB(connector),
		conn:   conn,
		dbPath: dbPath,
	}, nil
}

// DB returns the database/sql handle.
func (d *DuckDB) DB() *sql.DB {
	return d.db
}

// Exec runs a statement.
func (d *DuckDB) Exec(ctx context.Context, query string) error {
	_, err := d.db.ExecContext(ctx, query)
	return err
}

// Appender opens a DuckDB appender on table. Rows are flushed when it is closed.
func (d *DuckDB) Appender(_ context.Context, table string, _ int) (RowAppender, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil, fmt.Errorf("duckdb %s is closed", d.dbPath)
	}
	appender, err := duckdb.NewAppenderFromConn(d.conn, "", table)
	if err != nil {
		return nil, fmt.Errorf("failed to create appender for %s: %w", table, err)
	}
	return appender, nil
}

// Close closes the appender connection and the database.
func (d *DuckDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		d.conn = nil
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, err)
		}
		d.db = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing DuckDB: %v", errs)
	}
	return nil
}
