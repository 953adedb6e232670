// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"

	"github.com/pbsgo/batchcore/internal/conn"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// RegisterConnectHandlers wires Connect/Authenticate/Disconnect against hs
// (section 4.4: the handshake gate; section 4.5's Connect/Authenticate/
// Disconnect request types).
func RegisterConnectHandlers(r *Registry, hs *conn.Handshake, deps HandlerDeps) {
	r.Register(Authenticate, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		body, ok := req.Body.(conn.AuthenticateRequest)
		if !ok {
			return Reply{}, batcherr.New(batcherr.CodeProtocol, "Authenticate: malformed body")
		}
		if err := hs.Authenticate(ctx, c, body); err != nil {
			return Reply{}, err
		}
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(Connect, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		return Reply{Tag: ReplyNullCodeOnly}, nil
	})

	r.Register(Disconnect, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		return Reply{Tag: ReplyNullCodeOnly}, c.Close()
	})
}

// RegisterStubHandlers registers every RequestType not wired by one of the
// concrete Register*Handlers functions against a handler that replies with
// CodeProtocol, so Dispatch never falls through to "no handler registered"
// for a name in the 61-entry table (section 4.5). Each of these request
// types has no concrete handler in this tree; the stub only replies
// CodeProtocol.
func RegisterStubHandlers(r *Registry, deps HandlerDeps) {
	stub := func(ctx context.Context, c *conn.Connection, req Request) (Reply, error) {
		return Reply{}, batcherr.New(batcherr.CodeProtocol, "dispatch: "+string(req.Type)+" not yet implemented")
	}
	for rt := range allRequestTypes {
		if _, ok := r.typed[rt]; ok {
			continue
		}
		r.Register(rt, deps.Logger, deps.Metrics, stub)
	}
}
