// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package retry provides retry policies for the two bounded-backoff spots
// the core names explicitly: quick-update contention on the object store
// (section 4.3) and MoM-unreachable reconnects from the exec fan-out
// (section 4.9). Decisions are keyed off the batcherr.Band a failure
// carries rather than any transport-specific status code.
package retry

import (
	"context"
	"time"

	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// Policy decides whether a failed operation should be retried and how long
// to wait before the next attempt.
type Policy interface {
	ShouldRetry(ctx context.Context, err error, attempt int) bool
	WaitTime(attempt int) time.Duration
	MaxRetries() int
}

// BandedBackoff retries errors whose Band is transient (store busy,
// deadlock, mom unreachable, scheduler busy...) and gives up immediately on
// permanent or internal errors, which bounded backoff cannot fix.
type BandedBackoff struct {
	maxRetries    int
	minWaitTime   time.Duration
	maxWaitTime   time.Duration
	backoffFactor float64
	jitter        bool
}

// NewBandedBackoff returns a policy tuned for quick-update contention:
// up to three retries after the first attempt, starting at 100ms,
// doubling up to 2s.
func NewBandedBackoff() *BandedBackoff {
	return &BandedBackoff{
		maxRetries:    3,
		minWaitTime:   100 * time.Millisecond,
		maxWaitTime:   2 * time.Second,
		backoffFactor: 2.0,
		jitter:        true,
	}
}

func (b *BandedBackoff) WithMaxRetries(n int) *BandedBackoff          { b.maxRetries = n; return b }
func (b *BandedBackoff) WithMinWaitTime(d time.Duration) *BandedBackoff { b.minWaitTime = d; return b }
func (b *BandedBackoff) WithMaxWaitTime(d time.Duration) *BandedBackoff { b.maxWaitTime = d; return b }
func (b *BandedBackoff) WithBackoffFactor(f float64) *BandedBackoff   { b.backoffFactor = f; return b }
func (b *BandedBackoff) WithJitter(j bool) *BandedBackoff             { b.jitter = j; return b }

func (b *BandedBackoff) MaxRetries() int { return b.maxRetries }

// ShouldRetry retries transient-band batcherr.BatchError values (and any
// error reporting Retryable() true), as long as attempts remain and the
// context isn't already done.
func (b *BandedBackoff) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= b.maxRetries {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	if err == nil {
		return false
	}
	return batcherr.IsRetryable(err)
}

// WaitTime returns the exponential delay for the given attempt, capped at
// maxWaitTime and optionally perturbed by +/-10% jitter.
func (b *BandedBackoff) WaitTime(attempt int) time.Duration {
	strategy := &ExponentialBackoff{
		InitialDelay: b.minWaitTime,
		MaxDelay:     b.maxWaitTime,
		Multiplier:   b.backoffFactor,
		MaxAttempts:  b.maxRetries + 1,
	}
	if b.jitter {
		strategy.Jitter = 0.1
	}
	n := attempt - 1
	if n < 0 {
		n = 0
	}
	delay, _ := strategy.NextDelay(n)
	if delay < b.minWaitTime {
		delay = b.minWaitTime
	}
	return delay
}

// FixedDelay retries with a constant wait, used where the core wants a
// predictable reconnect cadence rather than exponential growth.
type FixedDelay struct {
	maxRetries int
	delay      time.Duration
}

func NewFixedDelay(maxRetries int, delay time.Duration) *FixedDelay {
	return &FixedDelay{maxRetries: maxRetries, delay: delay}
}

func (f *FixedDelay) MaxRetries() int { return f.maxRetries }

func (f *FixedDelay) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= f.maxRetries {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return err != nil && batcherr.IsRetryable(err)
}

func (f *FixedDelay) WaitTime(int) time.Duration { return f.delay }

// NoRetry never retries, for callers that want a Policy in hand without
// enabling the behavior (e.g. a one-shot admin command).
type NoRetry struct{}

func NewNoRetry() *NoRetry { return &NoRetry{} }

func (*NoRetry) MaxRetries() int                                        { return 0 }
func (*NoRetry) ShouldRetry(context.Context, error, int) bool           { return false }
func (*NoRetry) WaitTime(int) time.Duration                             { return 0 }

// Do runs fn, retrying under policy until it succeeds, the policy gives up,
// or the context is canceled.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !policy.ShouldRetry(ctx, err, attempt) {
			return lastErr
		}
		select {
		case <-time.After(policy.WaitTime(attempt + 1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
