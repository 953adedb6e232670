// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Txn implements the nested begin/commit with rollback latch described in
// section 4.3: "any failure inside a nesting level arms the latch; the
// outermost commit then rolls back." sqlite's savepoint support is
// partial, so nesting here is tracked in Go rather than via SQL
// SAVEPOINTs — only the outermost Begin opens a real database
// transaction; inner Begin calls just bump a depth counter and share the
// latch.
type Txn struct {
	tx    *sqlx.Tx
	mu    sync.Mutex
	depth int
	armed bool
}

// Begin starts a new outermost transaction scope; BeginNested joins an
// open one.
func (s *Store) Begin(ctx context.Context) (*Txn, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Txn{tx: tx, depth: 1}, nil
}

// BeginNested joins an existing Txn at one level deeper, sharing its
// underlying database transaction and rollback latch.
func (t *Txn) BeginNested() *Txn {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.depth++
	return t
}

// Arm trips the rollback latch; called whenever an operation inside any
// nesting level fails.
func (t *Txn) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
}

// Ext returns the handle operations in this scope should execute against.
func (t *Txn) Ext() sqlx.ExtContext { return t.tx }

// Commit ends one nesting level. Only the outermost Commit actually
// commits or rolls back the underlying database transaction; inner calls
// just decrement the depth counter.
func (t *Txn) Commit() error {
	t.mu.Lock()
	t.depth--
	outermost := t.depth == 0
	armed := t.armed
	t.mu.Unlock()

	if !outermost {
		return nil
	}
	if armed {
		return t.tx.Rollback()
	}
	return t.tx.Commit()
}

// Rollback arms the latch and, if outermost, rolls back immediately.
func (t *Txn) Rollback() error {
	t.Arm()
	t.mu.Lock()
	t.depth--
	outermost := t.depth == 0
	t.mu.Unlock()
	if outermost {
		return t.tx.Rollback()
	}
	return nil
}

// RunAsync commits hot, non-critical rows (e.g. resource-usage updates)
// from a separate worker goroutine per section 4.3's "async mode",
// logging failures rather than propagating them to the request path that
// triggered the update.
func (s *Store) RunAsync(ctx context.Context, fn func(ctx context.Context) error) {
	go func() {
		if err := fn(ctx); err != nil {
			s.logger.Warn("async store update failed", "error", err.Error())
		}
	}()
}
