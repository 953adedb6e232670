// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package conn

import (
	"context"

	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/auth"
)

// Handshake enforces section 4.4's rule: "the dispatcher refuses any
// other request until [Authenticate] succeeds." Guard checks each decoded
// request type and rejects it until Authenticate has succeeded.
type Handshake struct {
	registry *auth.Registry
	spoof    map[ID]*auth.SpoofPrevent
}

func NewHandshake(registry *auth.Registry) *Handshake {
	return &Handshake{registry: registry, spoof: map[ID]*auth.SpoofPrevent{}}
}

// AuthenticateRequest is the decoded body of the first-message
// Authenticate request (section 4.4).
type AuthenticateRequest struct {
	Method        string
	EncryptMethod string
	ClientPort    int
	CredBlob      []byte
}

// Authenticate runs the named method against peer and, on success, marks
// c authenticated. Rejecting other request types before this succeeds is
// Guard's job.
func (h *Handshake) Authenticate(ctx context.Context, c *Connection, req AuthenticateRequest) error {
	method, ok := h.registry.Lookup(req.Method)
	if !ok {
		return batcherr.New(batcherr.CodeNotAuthenticated, "unknown auth method: "+req.Method)
	}

	peer := auth.PeerInfo{Addr: c.PeerAddr, Port: c.PeerPort, ClientPort: req.ClientPort}
	result, err := method.Authenticate(ctx, peer, req.CredBlob)
	if err != nil {
		return batcherr.Wrap(batcherr.CodeNotAuthenticated, "authentication failed", err)
	}
	c.MarkAuthenticated(result)
	return nil
}

// Guard rejects requestType on c if c has not authenticated yet (section
// 4.4, section 8 scenario 6: "auth failure closes stream").
func (h *Handshake) Guard(c *Connection, requestType string) error {
	if requestType == "Authenticate" || requestType == "Connect" {
		return nil
	}
	if !c.IsAuthenticated() {
		return batcherr.New(batcherr.CodeNotAuthenticated, "not authenticated")
	}
	return nil
}

// CheckSpoof pins/validates the peer address for spoof-prevent mode
// (section 4.4).
func (h *Handshake) CheckSpoof(c *Connection, observedAddr string) error {
	sp, ok := h.spoof[c.ID]
	if !ok {
		sp = &auth.SpoofPrevent{}
		h.spoof[c.ID] = sp
	}
	if err := sp.Check(observedAddr); err != nil {
		return batcherr.Wrap(batcherr.CodePermissionDenied, "spoof check failed", err)
	}
	return nil
}
