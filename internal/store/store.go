// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package store implements the durable object store (section 4.3). The
// schema has tables for {server, sched, queue, job, reservation, node},
// but typed records and accessors exist only for jobs and reservations,
// persisted to a relational store via named prepared statements, with the hstore-like
// sparse attribute encoding from internal/attr. sqlite (via
// mattn/go-sqlite3) is the default/dev driver; lib/pq is wired for the
// PBS_DATA_SERVICE_HOST production path (section 6).
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pbsgo/batchcore/pkg/logging"
)

// Kind selects how much of a Record a Save writes (section 4.3).
type Kind int

const (
	// KindInsert creates a new row (header + attributes).
	KindInsert Kind = iota
	// KindFull rewrites header and the full attribute set.
	KindFull
	// KindQuick writes only header fields, omitting attribute rewrite —
	// the hot path for state changes (section 4.3).
	KindQuick
)

// Store wraps a sqlx.DB with the logger every daemon-facing package
// shares.
type Store struct {
	db     *sqlx.DB
	logger logging.Logger
}

// Open connects to driverName/dsn ("sqlite3" for the embedded default,
// "postgres" for the PBS_DATA_SERVICE_HOST production path) and verifies
// connectivity.
func Open(ctx context.Context, driverName, dsn string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for migration tooling
// (golang-migrate) and for object-type implementations in this package.
func (s *Store) DB() *sqlx.DB { return s.db }

// Cursor iterates rows returned by Find, in the ordering named in section
// 4.3 for the object type the query targeted.
type Cursor struct {
	rows *sqlx.Rows
}

// Next scans the next row into dest (a pointer to the object type's row
// struct), reporting false when the cursor is exhausted.
func (c *Cursor) Next(dest interface{}) (bool, error) {
	if !c.rows.Next() {
		return false, c.rows.Err()
	}
	if err := c.rows.StructScan(dest); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the cursor's underlying rows.
func (c *Cursor) Close() error { return c.rows.Close() }

// query runs a named query against the store (or an active Tx) and wraps
// the result in a Cursor.
func query(ctx context.Context, ext sqlx.ExtContext, stmt string, arg interface{}) (*Cursor, error) {
	rows, err := sqlx.NamedQueryContext(ctx, ext, stmt, arg)
	if err != nil {
		return nil, err
	}
	return &Cursor{rows: rows}, nil
}

// execNamed runs a named exec against ext (the store or an active Tx).
func execNamed(ctx context.Context, ext sqlx.ExtContext, stmt string, arg interface{}) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, ext, stmt, arg)
}
