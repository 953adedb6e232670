// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/pbsgo/batchcore/internal/conn"
	"github.com/pbsgo/batchcore/internal/store"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/logging"
	"github.com/pbsgo/batchcore/pkg/middleware"
)

// JobService is the subset of internal/job.Service the dispatcher's
// job-lifecycle handlers call through; kept as a narrow interface here so
// internal/dispatch does not need to import internal/job directly, which
// would create an import cycle since internal/job imports internal/dispatch
// for AttrEntry.
type JobService interface {
	Queue(ctx context.Context, jobID, queue string, entries []AttrEntry) error
	Delete(ctx context.Context, jobID string) error
	Hold(ctx context.Context, jobID, holdType string) error
	Release(ctx context.Context, jobID, holdType string) error
	JobScript(ctx context.Context, jobID, script string) error
	RdyToCommit(ctx context.Context, jobID string) error
	Commit(ctx context.Context, jobID string) error
	MoveJob(ctx context.Context, jobID, destination string) error
	ModifyJob(ctx context.Context, jobID string, entries []AttrEntry) error
	SignalJob(ctx context.Context, jobID, signal string) error
	Rerun(ctx context.Context, jobID string) error
}

// Launcher is the narrow seam RunJob's handler calls through to drive the
// primary-MoM sub-request sequence and sister multicast (section 4.7,
// section 4.9, C8) instead of only flipping the job's in-memory state.
// Defined here rather than referencing internal/exec's concrete type
// directly so dispatch_test.go can fake it without a real connection
// pool; cmd/pbs-server adapts *exec.Launcher to this shape.
type Launcher interface {
	Launch(ctx context.Context, jobID string, primary ExecHost, sisters []ExecHost, execVnode string) ([]ExecResult, error)
}

// ExecHost names one execution-host endpoint a RunJob targets, mirroring
// internal/exec.MoM without importing internal/exec's package (kept a
// plain struct here so callers can convert trivially).
type ExecHost struct {
	Addr string
	Port int
}

// ExecResult mirrors internal/exec.PeerResult: one sister MoM's hello
// outcome from the fan-out.
type ExecResult struct {
	Peer ExecHost
	Err  error
}

// RegisterJobHandlers wires the job-lifecycle request types against svc
// and the RunJob exec fan-out against launcher (section 4.5, section 4.7).
func RegisterJobHandlers(r *Registry, svc JobService, launcher Launcher, deps HandlerDeps) {
	r.Register(QueueJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(QueueJobBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "QueueJob: malformed body")
		}
		if err := svc.Queue(ctx, body.JobID, body.Queue, body.Attributes); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyJobID, Payload: body.JobID}, nil
	})

	r.Register(DeleteJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(HoldReleaseBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "DeleteJob: malformed body")
		}
		if err := svc.Delete(ctx, body.JobID); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	// DeleteJobList aggregates per-job failures with go-multierror so one
	// bad job ID does not mask the others' results (section 4.5, section
	// 2.1's named use of hashicorp/go-multierror).
	r.Register(DeleteJobList, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(DeleteJobListBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "DeleteJobList: malformed body")
		}

		var result *multierror.Error
		deleted := make([]string, 0, len(body.JobIDs))
		for _, id := range body.JobIDs {
			if err := svc.Delete(ctx, id); err != nil {
				result = multierror.Append(result, batcherr.Wrap(batcherr.CodeUnknownObject, "delete failed for "+id, err))
				continue
			}
			deleted = append(deleted, id)
		}

		if result != nil {
			return Reply{Tag: ReplyDeleteList, Payload: deleted}, result.ErrorOrNil()
		}
		return Reply{Tag: ReplyDeleteList, Payload: deleted}, nil
	})

	r.Register(HoldJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(HoldReleaseBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "HoldJob: malformed body")
		}
		if err := svc.Hold(ctx, body.JobID, body.HoldType); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(ReleaseJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(HoldReleaseBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "ReleaseJob: malformed body")
		}
		if err := svc.Release(ctx, body.JobID, body.HoldType); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	// RunJob drives the full launch sequence (section 4.7, section 4.9,
	// C8): the primary-MoM sub-request sequence plus the sister-MoM IM
	// hello multicast, not just the bare RUNNING transition -- Launch
	// itself fires the job's TriggerRun once every sister answers.
	r.Register(RunJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(RunJobBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "RunJob: malformed body")
		}
		results, err := launcher.Launch(ctx, body.JobID, body.Primary, body.Sisters, body.ExecVnode)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly, Payload: results}, nil
	})

	r.Register(JobScript, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(JobScriptBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "JobScript: malformed body")
		}
		if err := svc.JobScript(ctx, body.JobID, body.Script); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(RdyToCommit, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(JobIDBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "RdyToCommit: malformed body")
		}
		if err := svc.RdyToCommit(ctx, body.JobID); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	// Commit closes the partial-submit sequence (section 4.7: "Commit
	// required before any other request can reference it").
	r.Register(Commit, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(JobIDBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "Commit: malformed body")
		}
		if err := svc.Commit(ctx, body.JobID); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyJobID, Payload: body.JobID}, nil
	})

	r.Register(Rerun, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(JobIDBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "Rerun: malformed body")
		}
		if err := svc.Rerun(ctx, body.JobID); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(MoveJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(MoveJobBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "MoveJob: malformed body")
		}
		if err := svc.MoveJob(ctx, body.JobID, body.Destination); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(ModifyJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(ModifyJobBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "ModifyJob: malformed body")
		}
		if err := svc.ModifyJob(ctx, body.JobID, body.Attributes); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(SignalJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(SignalJobBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "SignalJob: malformed body")
		}
		if err := svc.SignalJob(ctx, body.JobID, body.Signal); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})
}

// StatusStore is the read-only subset of internal/store the StatusXxx
// handlers need.
type StatusStore interface {
	LoadJob(ctx context.Context, id string) (*store.JobRow, error)
	FindJobs(ctx context.Context, q store.JobQuery) (*store.Cursor, error)
}

// RegisterStatusHandlers wires StatusJob against st.
func RegisterStatusHandlers(r *Registry, st StatusStore, deps HandlerDeps) {
	r.Register(StatusJob, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(StatusBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "StatusJob: malformed body")
		}
		if body.ObjectID != "" {
			row, err := st.LoadJob(ctx, body.ObjectID)
			if err != nil {
				return Reply{}, err
			}
			return Reply{Tag: ReplyStatusList, Payload: []*store.JobRow{row}}, nil
		}

		cur, err := st.FindJobs(ctx, store.JobQuery{})
		if err != nil {
			return Reply{}, err
		}
		defer cur.Close()

		var rows []*store.JobRow
		for {
			var row store.JobRow
			more, err := cur.Next(&row)
			if err != nil {
				return Reply{}, batcherr.Wrap(batcherr.CodeInvariantViolation, "StatusJob: cursor scan failed", err)
			}
			if !more {
				break
			}
			r := row
			rows = append(rows, &r)
		}
		return Reply{Tag: ReplyStatusList, Payload: rows}, nil
	})
}

// HandlerDeps bundles the cross-cutting collaborators every handler
// registration needs.
type HandlerDeps struct {
	Logger  logging.Logger
	Metrics middleware.MetricsCollector
}
