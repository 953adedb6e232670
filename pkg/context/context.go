// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package context holds the connection timeout classes used on every
// codec read/write and the helpers that attach them to a context.Context.
package context

import (
	"context"
	"time"
)

// Stream timeout classes (section 5, "Cancellation and timeouts").
const (
	ConnectTimeout  = 10 * time.Second
	ShortTimeout    = 30 * time.Second
	LongTimeout     = 600 * time.Second
	VeryLongTimeout = 10800 * time.Second
)

// TimeoutConfig holds the timeout applied per operation class. NOTIMEOUT
// disables all of these for a connection (see conn.Connection.NoTimeout).
type TimeoutConfig struct {
	Connect  time.Duration
	Short    time.Duration
	Long     time.Duration
	VeryLong time.Duration
}

// DefaultTimeoutConfig returns the protocol's default timeout classes.
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Connect:  ConnectTimeout,
		Short:    ShortTimeout,
		Long:     LongTimeout,
		VeryLong: VeryLongTimeout,
	}
}

// OperationType selects which timeout class a blocking call should use.
type OperationType int

const (
	OpConnect OperationType = iota
	OpShort
	OpLong
	OpVeryLong
)

// WithTimeout attaches the timeout class for the given operation type,
// unless no-timeout is requested (e.g. NOTIMEOUT authen flag), in which
// case only cancellation propagates.
func WithTimeout(ctx context.Context, op OperationType, config *TimeoutConfig, noTimeout bool) (context.Context, context.CancelFunc) {
	if config == nil {
		config = DefaultTimeoutConfig()
	}
	if noTimeout {
		return context.WithCancel(ctx)
	}

	timeout := config.Short
	switch op {
	case OpConnect:
		timeout = config.Connect
	case OpLong:
		timeout = config.Long
	case OpVeryLong:
		timeout = config.VeryLong
	}

	return context.WithTimeout(ctx, timeout)
}

// WithDeadline attaches deadline unless ctx already carries a sooner one.
func WithDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// EnsureTimeout ensures ctx carries a deadline, attaching defaultTimeout if not.
func EnsureTimeout(ctx context.Context, defaultTimeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	if defaultTimeout == 0 {
		defaultTimeout = ShortTimeout
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// IsContextError reports whether err is context cancellation/deadline.
func IsContextError(err error) bool {
	if err == nil {
		return false
	}
	return err == context.Canceled || err == context.DeadlineExceeded
}

// TimeoutError wraps a context timeout/cancellation with the operation that hit it.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	if e.Err == context.DeadlineExceeded {
		return "operation '" + e.Operation + "' timed out after " + e.Timeout.String()
	}
	if e.Err == context.Canceled {
		return "operation '" + e.Operation + "' was canceled"
	}
	return "context error in operation '" + e.Operation + "': " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// WrapTimeoutError wraps a context error with operation details, passing
// through any non-context error unchanged.
func WrapTimeoutError(err error, operation string, timeout time.Duration) error {
	if !IsContextError(err) {
		return err
	}
	return &TimeoutError{Operation: operation, Timeout: timeout, Err: err}
}
