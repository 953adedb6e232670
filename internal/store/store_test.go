// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite3", "file::memory:?cache=shared", nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate("sqlite3"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadJob_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := &JobRow{
		ID:        "1.host",
		QueueName: "workq",
		State:     "QUEUED",
		Script:    "#!/bin/sh\necho hi\n",
	}
	require.NoError(t, s.SaveJob(ctx, row, KindInsert))

	got, err := s.LoadJob(ctx, "1.host")
	require.NoError(t, err)
	require.Equal(t, "workq", got.QueueName)
	require.Equal(t, "QUEUED", got.State)
}

func TestSaveJob_QuickUpdate_OmitsAttributeRewrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := &JobRow{ID: "2.host", QueueName: "workq", State: "QUEUED"}
	require.NoError(t, s.SaveJob(ctx, row, KindInsert))
	require.NoError(t, s.AddUpdateJobAttrs(ctx, "2.host", []SparseAttrEntry{{Key: "job_name.", Value: "0.j2"}}))

	row.State = "RUNNING"
	require.NoError(t, s.SaveJob(ctx, row, KindQuick))

	got, err := s.LoadJob(ctx, "2.host")
	require.NoError(t, err)
	require.Equal(t, "RUNNING", got.State)
	require.Contains(t, got.Attributes, "job_name")
}

func TestFindJobs_OrderedByQueueRank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveJob(ctx, &JobRow{ID: "a", QueueName: "workq", State: "QUEUED", QueueRank: 2}, KindInsert))
	require.NoError(t, s.SaveJob(ctx, &JobRow{ID: "b", QueueName: "workq", State: "QUEUED", QueueRank: 1}, KindInsert))

	cur, err := s.FindJobs(ctx, JobQuery{QueueName: "workq"})
	require.NoError(t, err)
	defer cur.Close()

	var ids []string
	var row JobRow
	for {
		ok, err := cur.Next(&row)
		require.NoError(t, err)
		if !ok {
			break
		}
		ids = append(ids, row.ID)
	}
	require.Equal(t, []string{"b", "a"}, ids)
}

func TestDeleteJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveJob(ctx, &JobRow{ID: "3.host", QueueName: "workq", State: "QUEUED"}, KindInsert))
	require.NoError(t, s.DeleteJob(ctx, "3.host"))

	_, err := s.LoadJob(ctx, "3.host")
	require.Error(t, err)
}

func TestDelJobAttrs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveJob(ctx, &JobRow{ID: "4.host", QueueName: "workq", State: "QUEUED"}, KindInsert))
	require.NoError(t, s.AddUpdateJobAttrs(ctx, "4.host", []SparseAttrEntry{{Key: "job_name.", Value: "0.j4"}}))
	require.NoError(t, s.DelJobAttrs(ctx, "4.host", []string{"job_name"}))

	got, err := s.LoadJob(ctx, "4.host")
	require.NoError(t, err)
	require.NotContains(t, got.Attributes, "job_name")
}

func TestTxn_NestedRollbackLatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txn, err := s.Begin(ctx)
	require.NoError(t, err)

	inner := txn.BeginNested()
	_, err = execNamed(ctx, inner.Ext(), jobInsertStmt, &JobRow{ID: "5.host", QueueName: "workq", State: "QUEUED"})
	require.NoError(t, err)

	inner.Arm() // simulate a failure deeper in the nesting
	require.NoError(t, inner.Commit())
	require.NoError(t, txn.Commit())

	_, err = s.LoadJob(ctx, "5.host")
	require.Error(t, err, "armed latch should have rolled back the outer commit")
}
