// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package etl

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite wraps a SQLite database. SQLite has no appender, so rows go through a prepared
// INSERT inside one transaction per table.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite opens or creates a SQLite database.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to SQLite %s: %w", dbPath, err)
	}
	return &SQLite{db: sqlDB, dbPath: dbPath}, nil
}

// DB returns the database/sql handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Exec runs a statement.
func (s *SQLite) Exec(ctx context.Context, query string) error {
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Appender starts a transaction with a prepared INSERT of columns placeholders.
func (s *SQLite) Appender(ctx context.Context, table string, columns int) (RowAppender, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for %s: %w", table, err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", columns), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders))
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	return &sqliteAppender{ctx: ctx, tx: tx, stmt: stmt}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteAppender struct {
	ctx    context.Context
	tx     *sql.Tx
	stmt   *sql.Stmt
	failed bool
}

func (a *sqliteAppender) AppendRow(values ...driver.Value) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if _, err := a.stmt.ExecContext(a.ctx, args...); err != nil {
		a.failed = true
		return err
	}
	return nil
}

// Close commits the rows, or rolls back if any insert failed.
func (a *sqliteAppender) Close() error {
	_ = a.stmt.Close()
	if a.failed {
		return a.tx.Rollback()
	}
	return a.tx.Commit()
}
