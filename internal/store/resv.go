// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// ResvRow is the fixed-header projection of a reservation object (section
// 4.8) as persisted in pbs_resv. OccurrenceToken is the google/uuid-derived
// idempotency key checked before ResvOccurEnd's cleanup runs a second time.
type ResvRow struct {
	ID              string `db:"id"`
	CreatedAt       int64  `db:"created_at"`
	ChangeCount     int64  `db:"changecount"`
	QueueName       string `db:"queue_name"`
	State           string `db:"state"`
	StartTime       *int64 `db:"start_time"`
	EndTime         *int64 `db:"end_time"`
	ExecVnode       string `db:"exec_vnode"`
	OccurrenceToken string `db:"occurrence_token"`
	Attributes      string `db:"attributes"`
}

const (
	resvInsertStmt = `INSERT INTO pbs_resv
		(id, created_at, changecount, queue_name, state, start_time, end_time, exec_vnode, occurrence_token, attributes)
		VALUES
		(:id, :created_at, :changecount, :queue_name, :state, :start_time, :end_time, :exec_vnode, :occurrence_token, :attributes)`

	resvUpdateQuickStmt = `UPDATE pbs_resv SET
		changecount = changecount + 1, state = :state, start_time = :start_time,
		end_time = :end_time, exec_vnode = :exec_vnode, occurrence_token = :occurrence_token
		WHERE id = :id`

	resvSelectStmt = `SELECT * FROM pbs_resv WHERE id = :id`

	resvDeleteStmt = `DELETE FROM pbs_resv WHERE id = :id`
)

// SaveResv persists row: KindInsert creates, anything else is the header-only
// quick update (reservations have no per-job attribute-rewrite hot path, so
// KindFull and KindQuick share the same statement here).
func (s *Store) SaveResv(ctx context.Context, row *ResvRow, kind Kind) error {
	stmt := resvUpdateQuickStmt
	if kind == KindInsert {
		stmt = resvInsertStmt
	}
	if _, err := execNamed(ctx, s.db, stmt, row); err != nil {
		return batcherr.Wrap(batcherr.CodeStoreBusy, "reservation save failed", err)
	}
	return nil
}

// LoadResv fetches a single reservation by id.
func (s *Store) LoadResv(ctx context.Context, id string) (*ResvRow, error) {
	var row ResvRow
	rows, err := sqlx.NamedQueryContext(ctx, s.db, resvSelectStmt, map[string]interface{}{"id": id})
	if err != nil {
		return nil, batcherr.Wrap(batcherr.CodeStoreBusy, "reservation load failed", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, batcherr.New(batcherr.CodeUnknownObject, "reservation not found: "+id)
	}
	if err := rows.StructScan(&row); err != nil {
		return nil, batcherr.Wrap(batcherr.CodeInvariantViolation, "reservation row scan failed", err)
	}
	return &row, nil
}

// DeleteResv removes a reservation row by id.
func (s *Store) DeleteResv(ctx context.Context, id string) error {
	if _, err := execNamed(ctx, s.db, resvDeleteStmt, map[string]interface{}{"id": id}); err != nil {
		return batcherr.Wrap(batcherr.CodeStoreBusy, "reservation delete failed", err)
	}
	return nil
}
