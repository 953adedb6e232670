// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package middleware wraps a batch request Handler with cross-cutting
// behavior the dispatcher wants on every request type (section 4.4):
// structured logging, a default timeout when the caller set none, retry of
// transient-band failures, per-type metrics, request ID tagging and a
// circuit breaker in front of an overloaded scheduler channel.
package middleware

import (
	"context"
	"fmt"
	"time"

	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/logging"
	"github.com/pbsgo/batchcore/pkg/retry"
)

// Request is the minimal shape the dispatcher hands to a Handler: the
// batch request type name and the authenticated user, plus whatever
// type-specific payload the concrete handler expects.
type Request struct {
	Type    string
	User    string
	Payload any
}

// Handler processes one decoded batch request and returns its reply
// payload or a *batcherr.BatchError.
type Handler func(ctx context.Context, req Request) (any, error)

// Middleware wraps a Handler with additional behavior.
type Middleware func(Handler) Handler

// Chain composes middlewares so the first listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// WithTimeout applies a default deadline to requests whose context has
// none yet, mirroring the per-operation timeouts in pkg/context.
func WithTimeout(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (any, error) {
			if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return next(ctx, req)
		}
	}
}

// WithLogging logs each request's type, user and outcome.
func WithLogging(logger logging.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (any, error) {
			start := time.Now()
			reqLogger := logging.LogRequest(logger, req.Type, req.User)

			reqLogger.Debug("dispatching request")

			resp, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				logging.LogError(reqLogger, err, "request_failed", "duration_ms", duration.Milliseconds())
				return resp, err
			}

			reqLogger.Info("request completed", "duration_ms", duration.Milliseconds())
			return resp, nil
		}
	}
}

// WithRetry retries a handler using policy as long as the failure's band is
// transient, matching the object store's bounded quick-update retry
// (section 4.3).
func WithRetry(policy retry.Policy) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (any, error) {
			var resp any
			err := retry.Do(ctx, policy, func() error {
				var innerErr error
				resp, innerErr = next(ctx, req)
				return innerErr
			})
			return resp, err
		}
	}
}

// WithRequestID stamps req.Payload's context with a generated ID so
// downstream logs/metrics can correlate a single request end to end.
func WithRequestID(generator func() string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (any, error) {
			ctx = context.WithValue(ctx, requestIDKey{}, generator())
			return next(ctx, req)
		}
	}
}

type requestIDKey struct{}

// RequestIDFromContext retrieves the ID stamped by WithRequestID, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// MetricsCollector is the interface WithMetrics reports through; the
// dispatcher wires in the prometheus-backed implementation from
// pkg/metrics.
type MetricsCollector interface {
	RecordRequest(requestType string)
	RecordResponse(requestType string, duration time.Duration)
	RecordError(requestType string, err error)
}

// WithMetrics records per-request-type counters and latencies.
func WithMetrics(collector MetricsCollector) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (any, error) {
			start := time.Now()
			collector.RecordRequest(req.Type)

			resp, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				collector.RecordError(req.Type, err)
			} else {
				collector.RecordResponse(req.Type, duration)
			}
			return resp, err
		}
	}
}

// WithCircuitBreaker stops dispatching to a handler (e.g. the scheduler
// channel) once it has failed threshold times in a row, reopening after
// timeout has passed since the last failure.
func WithCircuitBreaker(threshold int, timeout time.Duration) Middleware {
	breaker := &circuitBreaker{threshold: threshold, timeout: timeout}

	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (any, error) {
			if !breaker.Allow() {
				return nil, batcherr.Wrap(batcherr.CodeSchedulerBusy,
					fmt.Sprintf("circuit open for %s", req.Type), nil)
			}

			resp, err := next(ctx, req)
			if err != nil && batcherr.IsRetryable(err) {
				breaker.RecordFailure()
			} else {
				breaker.RecordSuccess()
			}
			return resp, err
		}
	}
}

type circuitBreaker struct {
	threshold int
	timeout   time.Duration
	failures  int
	lastFail  time.Time
}

func (cb *circuitBreaker) Allow() bool {
	if cb.failures < cb.threshold {
		return true
	}
	return time.Since(cb.lastFail) > cb.timeout
}

func (cb *circuitBreaker) RecordFailure() {
	cb.failures++
	cb.lastFail = time.Now()
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.failures = 0
}
