// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package conn implements the connection and authentication layer
// (section 4.4): a process-wide connection table, per-connection
// recursive locking, and the pluggable auth handshake from pkg/auth.
package conn

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pbsgo/batchcore/pkg/auth"
	"github.com/pbsgo/batchcore/internal/dis"
)

// Origin tags a connection's peer role (section 3).
type Origin int

const (
	OriginUnknown Origin = iota
	OriginSchedPrimary
	OriginSchedSecondary
	OriginSchedAny
)

// ID identifies a connection table slot; stable for the connection's
// lifetime.
type ID uint64

// Connection is the per-socket record from section 3, guarded by its own
// recursive lock (section 4.4: "Each connection has a recursive lock.").
// Go's sync.Mutex is not reentrant, so recursion is modeled explicitly
// with the {owner, depth} wrapper section 9 recommends rather than by
// recursing into sync.Mutex.Lock.
type Connection struct {
	ID         ID
	Channel    *dis.Channel
	PeerAddr   string
	PeerPort   int
	Origin     Origin
	NoTimeout  bool
	Authen     atomic.Bool
	LastErrNo  int
	LastErrMsg string

	lockMu    sync.Mutex
	ownerGo   int64
	depth     int
	lockedAt  time.Time
	createdAt time.Time
}

// NewConnection wraps an accepted net.Conn in a Connection record.
func NewConnection(id ID, nc net.Conn, origin Origin) *Connection {
	host, portStr, _ := net.SplitHostPort(nc.RemoteAddr().String())
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return &Connection{
		ID:        id,
		Channel:   dis.NewChan(nc, dis.TransportDirect),
		PeerAddr:  host,
		PeerPort:  port,
		Origin:    origin,
		createdAt: time.Now(),
	}
}

// goroutineToken is a process-unique handle for "the calling logical
// thread" since Go has no stable goroutine ID; callers that need
// recursive-lock semantics pass a token obtained once per request chain
// (e.g. a *dispatch.Request pointer address) rather than relying on
// runtime goroutine identity.
type goroutineToken = int64

// Lock acquires the connection's recursive lock for owner, blocking only
// if a different owner currently holds it (section 4.4).
func (c *Connection) Lock(owner goroutineToken) {
	for {
		c.lockMu.Lock()
		if c.depth == 0 || c.ownerGo == owner {
			c.ownerGo = owner
			c.depth++
			c.lockedAt = time.Now()
			c.lockMu.Unlock()
			return
		}
		c.lockMu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// Unlock releases one level of recursion; panics if owner does not hold
// the lock, since that indicates a programming error in the caller.
func (c *Connection) Unlock(owner goroutineToken) {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	if c.depth == 0 || c.ownerGo != owner {
		panic("conn: Unlock called without holding the connection lock")
	}
	c.depth--
}

// SetError records the connection's last error, copying it into the slot
// as section 4.4 requires of any handler that touches these fields —
// callers must hold the connection lock across this call.
func (c *Connection) SetError(errno int, msg string) {
	c.LastErrNo = errno
	c.LastErrMsg = msg
}

// MarkAuthenticated flips the connection to authenticated. The auth
// result itself is not stored on the connection.
func (c *Connection) MarkAuthenticated(result *auth.Result) {
	c.Authen.Store(true)
	_ = result
}

// IsAuthenticated reports whether the Authenticate handshake succeeded.
func (c *Connection) IsAuthenticated() bool { return c.Authen.Load() }

// Close closes the underlying channel.
func (c *Connection) Close() error { return c.Channel.Close() }
