// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dis

import (
	"context"
	"net"
	"time"
)

// Transport names which of the two concrete transports (section 4.1) a
// Channel rides on.
type Transport int

const (
	TransportDirect Transport = iota
	TransportMT
)

// Channel is what the codec layer exposes to callers: newChan, setTimeout,
// flush, and the read*/write* primitives via the embedded Reader/Writer.
type Channel struct {
	*Reader
	*Writer

	conn      net.Conn
	transport Transport
}

// NewChan wraps a connection (a direct TCP stream, or one leg of the MT
// mesh transport) in a Channel sharing one Reader/Writer pair.
func NewChan(conn net.Conn, transport Transport) *Channel {
	return &Channel{
		Reader:    NewReader(conn),
		Writer:    NewWriter(conn),
		conn:      conn,
		transport: transport,
	}
}

// Transport reports which transport this channel rides.
func (c *Channel) Transport() Transport { return c.transport }

// SetTimeout bounds the next read/write on the underlying connection.
func (c *Channel) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return c.conn.SetDeadline(time.Time{})
	}
	return c.conn.SetDeadline(time.Now().Add(d))
}

// Close closes the underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }

// WithContext bounds a Channel operation by ctx's deadline/cancellation in
// addition to whatever fixed timeout SetTimeout last applied, implementing
// the "cancellation token propagated into every blocking call" guidance
// (section 9) on top of net.Conn's deadline-only cancellation model.
func (c *Channel) WithContext(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.conn.SetDeadline(deadline)
	}
	return nil
}
