// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/retry"
)

// JobRow is the fixed-header projection of a job object (section 3) as
// persisted in pbs_job; Attributes carries the sparse encoding from
// internal/attr.
type JobRow struct {
	ID                string `db:"id"`
	CreatedAt         int64  `db:"created_at"`
	ChangeCount       int64  `db:"changecount"`
	QueueName         string `db:"queue_name"`
	QueueRank         int64  `db:"queue_rank"`
	SubJobIndex       int64  `db:"sub_job_index"`
	OriginDestination string `db:"origin_destination"`
	State             string `db:"state"`
	Substate          string `db:"substate"`
	ServerFlags       int64  `db:"server_flags"`
	ExecUID           *int64 `db:"exec_uid"`
	ExecGID           *int64 `db:"exec_gid"`
	StartTime         *int64 `db:"start_time"`
	ExitStatus        *int64 `db:"exit_status"`
	MomAddr           string `db:"mom_addr"`
	MomPort           *int64 `db:"mom_port"`
	ExecVnode         string `db:"exec_vnode"`
	RerunCount        int64  `db:"rerun_count"`
	Script            string `db:"script"`
	Attributes        string `db:"attributes"` // JSON-encoded []attr.SparseEntry
}

// JobQuery narrows Find; an empty Query returns every row in cursor order.
type JobQuery struct {
	QueueName string
	State     string
}

const (
	jobInsertStmt = `INSERT INTO pbs_job
		(id, created_at, changecount, queue_name, queue_rank, sub_job_index, origin_destination,
		 state, substate, server_flags, exec_uid, exec_gid, start_time, exit_status,
		 mom_addr, mom_port, exec_vnode, rerun_count, script, attributes)
		VALUES
		(:id, :created_at, :changecount, :queue_name, :queue_rank, :sub_job_index, :origin_destination,
		 :state, :substate, :server_flags, :exec_uid, :exec_gid, :start_time, :exit_status,
		 :mom_addr, :mom_port, :exec_vnode, :rerun_count, :script, :attributes)`

	jobUpdateFullStmt = `UPDATE pbs_job SET
		changecount = changecount + 1, queue_name = :queue_name, queue_rank = :queue_rank,
		sub_job_index = :sub_job_index, origin_destination = :origin_destination,
		state = :state, substate = :substate, server_flags = :server_flags,
		exec_uid = :exec_uid, exec_gid = :exec_gid, start_time = :start_time,
		exit_status = :exit_status, mom_addr = :mom_addr, mom_port = :mom_port,
		exec_vnode = :exec_vnode, rerun_count = :rerun_count, script = :script,
		attributes = :attributes
		WHERE id = :id`

	// Quick update writes only header fields, omitting attribute rewrite
	// (section 4.3) — the hot path for state-change-only saves.
	jobUpdateQuickStmt = `UPDATE pbs_job SET
		changecount = changecount + 1, state = :state, substate = :substate,
		server_flags = :server_flags, exec_uid = :exec_uid, exec_gid = :exec_gid,
		start_time = :start_time, exit_status = :exit_status, mom_addr = :mom_addr,
		mom_port = :mom_port, exec_vnode = :exec_vnode, rerun_count = :rerun_count
		WHERE id = :id`

	jobUpdateAttrsOnlyStmt = `UPDATE pbs_job SET changecount = changecount + 1, attributes = :attributes WHERE id = :id`

	jobSelectStmt = `SELECT * FROM pbs_job WHERE id = :id`

	jobDeleteStmt = `DELETE FROM pbs_job WHERE id = :id`

	jobFindOrdByQueueRankStmt = `SELECT * FROM pbs_job
		WHERE (:queue_name = '' OR queue_name = :queue_name)
		  AND (:state = '' OR state = :state)
		ORDER BY queue_rank ASC, sub_job_index ASC`
)

// SaveJob persists row according to kind (section 4.3): insert creates,
// full rewrites header+attributes, quick rewrites only header fields.
// Quick saves retry on a transient store-busy error with bounded backoff
// (section 4.9's named retry spot); full/insert failures propagate
// directly, leaving in-memory state unchanged.
func (s *Store) SaveJob(ctx context.Context, row *JobRow, kind Kind) error {
	var stmt string
	switch kind {
	case KindInsert:
		stmt = jobInsertStmt
	case KindFull:
		stmt = jobUpdateFullStmt
	case KindQuick:
		stmt = jobUpdateQuickStmt
	default:
		return batcherr.New(batcherr.CodeProtocol, "store: unknown save kind")
	}

	exec := func() error {
		_, err := execNamed(ctx, s.db, stmt, row)
		if err != nil {
			return batcherr.Wrap(batcherr.CodeStoreBusy, "job save failed", err)
		}
		return nil
	}

	if kind == KindQuick {
		return retry.Do(ctx, retry.NewBandedBackoff(), exec)
	}
	return exec()
}

// LoadJob fetches a single job by id.
func (s *Store) LoadJob(ctx context.Context, id string) (*JobRow, error) {
	var row JobRow
	rows, err := sqlx.NamedQueryContext(ctx, s.db, jobSelectStmt, map[string]interface{}{"id": id})
	if err != nil {
		return nil, batcherr.Wrap(batcherr.CodeStoreBusy, "job load failed", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, batcherr.New(batcherr.CodeUnknownObject, "job not found: "+id)
	}
	if err := rows.StructScan(&row); err != nil {
		return nil, batcherr.Wrap(batcherr.CodeInvariantViolation, "job row scan failed", err)
	}
	return &row, nil
}

// FindJobs returns a Cursor over jobs matching q, ordered ascending by
// (queue-rank, sub-job-index) per section 4.3.
func (s *Store) FindJobs(ctx context.Context, q JobQuery) (*Cursor, error) {
	arg := map[string]interface{}{"queue_name": q.QueueName, "state": q.State}
	return query(ctx, s.db, jobFindOrdByQueueRankStmt, arg)
}

// DeleteJob removes a job row by id.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := execNamed(ctx, s.db, jobDeleteStmt, map[string]interface{}{"id": id})
	if err != nil {
		return batcherr.Wrap(batcherr.CodeStoreBusy, "job delete failed", err)
	}
	return nil
}

// AddUpdateJobAttrs merges entries into the job's sparse attribute column
// (the "AddUpdateAttr" operation of section 4.3).
func (s *Store) AddUpdateJobAttrs(ctx context.Context, id string, entries []SparseAttrEntry) error {
	row, err := s.LoadJob(ctx, id)
	if err != nil {
		return err
	}
	merged, err := mergeSparseJSON(row.Attributes, entries, nil)
	if err != nil {
		return batcherr.Wrap(batcherr.CodeInvariantViolation, "attribute merge failed", err)
	}
	_, err = execNamed(ctx, s.db, jobUpdateAttrsOnlyStmt, map[string]interface{}{"id": id, "attributes": merged})
	if err != nil {
		return batcherr.Wrap(batcherr.CodeStoreBusy, "job attribute update failed", err)
	}
	return nil
}

// DelJobAttrs removes the named attributes from the job's sparse column
// (the "DelAttr" operation of section 4.3).
func (s *Store) DelJobAttrs(ctx context.Context, id string, names []string) error {
	row, err := s.LoadJob(ctx, id)
	if err != nil {
		return err
	}
	merged, err := mergeSparseJSON(row.Attributes, nil, names)
	if err != nil {
		return batcherr.Wrap(batcherr.CodeInvariantViolation, "attribute delete failed", err)
	}
	_, err = execNamed(ctx, s.db, jobUpdateAttrsOnlyStmt, map[string]interface{}{"id": id, "attributes": merged})
	if err != nil {
		return batcherr.Wrap(batcherr.CodeStoreBusy, "job attribute update failed", err)
	}
	return nil
}

// SparseAttrEntry is the JSON-serializable form of attr.SparseEntry used
// at the store boundary (internal/store does not import internal/attr
// directly so the two packages can evolve independently; internal/job
// converts between the two).
type SparseAttrEntry struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

func mergeSparseJSON(existingJSON string, add []SparseAttrEntry, remove []string) (string, error) {
	var current map[string]string
	if existingJSON == "" {
		current = map[string]string{}
	} else if err := json.Unmarshal([]byte(existingJSON), &current); err != nil {
		return "", err
	}
	for _, e := range add {
		current[e.Key] = e.Value
	}
	for _, name := range remove {
		for k := range current {
			if hasAttrPrefix(k, name) {
				delete(current, k)
			}
		}
	}
	out, err := json.Marshal(current)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func hasAttrPrefix(key, name string) bool {
	return len(key) >= len(name) && key[:len(name)] == name
}
