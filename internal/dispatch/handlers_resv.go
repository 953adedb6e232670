// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"

	"github.com/pbsgo/batchcore/internal/conn"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// ResvEngine is the subset of internal/resv.Engine the reservation request
// types call through (section 4.8).
type ResvEngine interface {
	Submit(ctx context.Context, id, queueName string) error
	Confirm(ctx context.Context, id, execVnode string, startTime, endTime int64) error
	Begin(ctx context.Context, id string) error
	OccurEnd(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// RegisterResvHandlers wires the reservation request types against eng
// (section 4.5, section 4.8).
func RegisterResvHandlers(r *Registry, eng ResvEngine, deps HandlerDeps) {
	r.Register(SubmitResv, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(SubmitResvBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "SubmitResv: malformed body")
		}
		if err := eng.Submit(ctx, body.ResvID, body.Queue); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyJobID, Payload: body.ResvID}, nil
	})

	r.Register(ConfirmResv, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(ConfirmResvBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "ConfirmResv: malformed body")
		}
		if err := eng.Confirm(ctx, body.ResvID, body.ExecVnode, body.StartTime, body.EndTime); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(BeginResv, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(ResvIDBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "BeginResv: malformed body")
		}
		if err := eng.Begin(ctx, body.ResvID); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(ResvOccurEnd, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(ResvIDBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "ResvOccurEnd: malformed body")
		}
		if err := eng.OccurEnd(ctx, body.ResvID); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(DeleteResv, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(ResvIDBody)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "DeleteResv: malformed body")
		}
		if err := eng.Delete(ctx, body.ResvID); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})
}
