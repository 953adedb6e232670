// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the connection auth handshake (section 4.4): the
// first message on a newly accepted stream MUST be an Authenticate request,
// and the dispatcher refuses any other request until a Method here reports
// success.
package auth

import (
	"context"
	"fmt"
)

// PeerInfo describes the connecting peer as known to the auth layer,
// without depending on the connection package (it is authenticated before
// the full Connection record is considered trustworthy).
type PeerInfo struct {
	Addr       string
	Port       int
	ClientPort int
}

// Result is what a successful Method returns.
type Result struct {
	Authenticated  bool
	FromPrivileged bool
	Principal      string
}

// CredentialExchanger performs the actual credential verification for an
// external auth method (munge, gss, tls...). The core only consumes this
// small interface; the crypto/identity substrate is an external
// collaborator out of this core's scope.
type CredentialExchanger interface {
	// Verify validates a credential blob exchanged via follow-on Cred
	// messages and returns the authenticated principal name.
	Verify(ctx context.Context, blob []byte) (principal string, err error)
}

// Method is one pluggable auth handshake method.
type Method interface {
	Name() string
	Authenticate(ctx context.Context, peer PeerInfo, blob []byte) (*Result, error)
}

// reservedPortMax is the upper bound (exclusive) of the privileged port
// range checked by the resvport method.
const reservedPortMax = 1024

// ResvportMethod authenticates by checking the peer's source port against
// the low reserved range; the kernel's own privilege check (only root can
// bind under 1024) is the authentication.
type ResvportMethod struct{}

func NewResvportMethod() *ResvportMethod { return &ResvportMethod{} }

func (*ResvportMethod) Name() string { return "resvport" }

func (*ResvportMethod) Authenticate(_ context.Context, peer PeerInfo, _ []byte) (*Result, error) {
	if peer.ClientPort <= 0 || peer.ClientPort >= reservedPortMax {
		return nil, fmt.Errorf("auth: client port %d is not in the reserved range", peer.ClientPort)
	}
	return &Result{Authenticated: true}, nil
}

// ExternalMethod wraps a CredentialExchanger under a named method
// (munge, gss, tls...). The daemon-service principal is used to decide
// whether the peer gets from_privileged on success.
type ExternalMethod struct {
	name             string
	exchanger        CredentialExchanger
	servicePrincipal string
}

// NewExternalMethod builds an external auth method. servicePrincipal, when
// non-empty, is compared against the verified principal to set
// Result.FromPrivileged.
func NewExternalMethod(name string, exchanger CredentialExchanger, servicePrincipal string) *ExternalMethod {
	return &ExternalMethod{name: name, exchanger: exchanger, servicePrincipal: servicePrincipal}
}

func (m *ExternalMethod) Name() string { return m.name }

func (m *ExternalMethod) Authenticate(ctx context.Context, _ PeerInfo, blob []byte) (*Result, error) {
	principal, err := m.exchanger.Verify(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("auth: %s credential exchange failed: %w", m.name, err)
	}
	return &Result{
		Authenticated:  true,
		Principal:      principal,
		FromPrivileged: m.servicePrincipal != "" && principal == m.servicePrincipal,
	}, nil
}

// Registry resolves a named method, giving the dispatcher a single lookup
// point for whatever auth methods this daemon was configured with
// (PBS_AUTH_METHOD / PBS_SUPPORTED_AUTH_METHODS).
type Registry struct {
	methods map[string]Method
}

func NewRegistry(methods ...Method) *Registry {
	r := &Registry{methods: make(map[string]Method, len(methods))}
	for _, m := range methods {
		r.methods[m.Name()] = m
	}
	return r
}

func (r *Registry) Lookup(name string) (Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// SpoofPrevent pins a connection's peer IP to the value observed on its
// first message; callers compare subsequent observed addresses against
// Pinned and reject on mismatch.
type SpoofPrevent struct {
	Pinned string
}

func (s *SpoofPrevent) Check(observed string) error {
	if s.Pinned == "" {
		s.Pinned = observed
		return nil
	}
	if s.Pinned != observed {
		return fmt.Errorf("auth: peer address changed from %s to %s mid-connection", s.Pinned, observed)
	}
	return nil
}
