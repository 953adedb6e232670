// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"

	"github.com/pbsgo/batchcore/internal/conn"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// ObitReporter is the subset of internal/exec.Launcher the JobObit
// handler calls through (section 4.9): the mother MoM reports a job's
// final exit status.
type ObitReporter interface {
	Obit(ctx context.Context, jobID string, exitStatus int) error
}

// RegisterExecHandlers wires JobObit against obit (section 4.5, section
// 4.9). RunJob itself is wired in RegisterJobHandlers, against the same
// underlying Launcher through the narrower Launch-only interface there.
func RegisterExecHandlers(r *Registry, obit ObitReporter, deps HandlerDeps) {
	r.Register(JobObit, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(JobObitBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "JobObit: malformed body")
		}
		if err := obit.Obit(ctx, body.JobID, body.ExitStatus); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})
}
