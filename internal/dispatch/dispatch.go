// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"time"

	"github.com/pbsgo/batchcore/internal/conn"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/logging"
	"github.com/pbsgo/batchcore/pkg/middleware"
	"github.com/pbsgo/batchcore/pkg/retry"
)

// ReplyTag classifies a reply's shape (section 4.5's reply-tag list).
type ReplyTag int

const (
	ReplyNullCodeOnly ReplyTag = iota
	ReplyJobID
	ReplySelectList
	ReplyStatusList
	ReplyText
	ReplyLocate
	ReplyResourceQuery
	ReplyPreemptJobs
	ReplyDeleteList
)

// Reply is the dispatcher's typed response: a tag naming its shape plus
// whatever payload the concrete handler produced.
type Reply struct {
	Tag     ReplyTag
	Payload any
}

// TypedHandler processes one decoded Request against conn and returns its
// Reply, or a *batcherr.BatchError.
type TypedHandler func(ctx context.Context, c *conn.Connection, req Request) (Reply, error)

// Registry maps RequestType to the middleware-wrapped handler that serves
// it (section 4.5: "table-driven Handler registry").
type Registry struct {
	handlers map[RequestType]middleware.Handler
	typed    map[RequestType]TypedHandler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[RequestType]middleware.Handler{},
		typed:    map[RequestType]TypedHandler{},
	}
}

// storeTouchingTypes names the request types whose handler reaches the
// object store directly, and which therefore get WithRetry+
// WithCircuitBreaker on top of the common chain (section 4.5, section
// 4.9's named retry/circuit-breaker spots).
var storeTouchingTypes = map[RequestType]struct{}{
	QueueJob: {}, Commit: {}, DeleteJob: {}, DeleteJobList: {},
	HoldJob: {}, ReleaseJob: {}, ModifyJob: {}, ModifyJobAsync: {},
	MoveJob: {}, RunJob: {}, AsyrunJob: {}, Rerun: {},
	SubmitResv: {}, ModifyResv: {}, DeleteResv: {}, ConfirmResv: {},
	BeginResv: {}, ResvOccurEnd: {}, Manager: {},
}

// Register wires h under requestType, through the common middleware chain
// plus retry/circuit-breaker for store-touching types (section 4.5).
func (r *Registry) Register(requestType RequestType, logger logging.Logger, metrics middleware.MetricsCollector, h TypedHandler) {
	r.typed[requestType] = h

	base := func(ctx context.Context, mreq middleware.Request) (any, error) {
		c, _ := mreq.Payload.(*handlerInput)
		if c == nil {
			return nil, batcherr.New(batcherr.CodeProtocol, "dispatch: malformed handler input")
		}
		return h(ctx, c.conn, c.req)
	}

	chainFns := []middleware.Middleware{
		middleware.WithLogging(logger),
		middleware.WithMetrics(metrics),
		middleware.WithTimeout(30 * time.Second),
	}
	if _, touches := storeTouchingTypes[requestType]; touches {
		chainFns = append(chainFns,
			middleware.WithRetry(retry.NewBandedBackoff()),
			middleware.WithCircuitBreaker(5, 10*time.Second),
		)
	}

	r.handlers[requestType] = middleware.Chain(chainFns...)(base)
}

// handlerInput bridges the typed (conn, Request) pair through
// middleware.Handler's untyped Payload field.
type handlerInput struct {
	conn *conn.Connection
	req  Request
}

// Dispatch routes req to its registered handler, rejecting unknown or
// unregistered types (section 4.5: "Unknown type -> error reply + close").
func (r *Registry) Dispatch(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
	if !req.Type.Valid() {
		return Reply{}, batcherr.New(batcherr.CodeProtocol, "dispatch: unknown request type")
	}
	h, ok := r.handlers[req.Type]
	if !ok {
		return Reply{}, batcherr.New(batcherr.CodeProtocol, "dispatch: no handler registered for "+string(req.Type))
	}

	resp, err := h(ctx, middleware.Request{
		Type:    string(req.Type),
		User:    req.User,
		Payload: &handlerInput{conn: c, req: req},
	})
	if err != nil {
		// A handler may return a partial reply alongside its error (e.g.
		// DeleteJobList's per-job results); pass it through with the error.
		partial, _ := resp.(Reply)
		return partial, err
	}
	reply, ok := resp.(Reply)
	if !ok {
		return Reply{}, batcherr.New(batcherr.CodeInvariantViolation, "dispatch: handler returned non-Reply payload")
	}
	return reply, nil
}
