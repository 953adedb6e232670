// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the closed batch-request error enum used across
// the dispatcher, object store and exec fan-out, grouped into the three
// propagation bands described by the protocol: permanent, transient and
// internal.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code is a single closed enum of batch error codes. Numeric values are
// assigned in band order so a caller can classify an unrecognized code by
// range if the symbolic Band lookup ever falls out of sync.
type Code int

const (
	CodeUnknown Code = iota

	// Permanent - caller should not retry.
	CodeProtocol
	CodeBadAttribute
	CodeUnknownObject
	CodePermissionDenied
	CodeDuplicateID
	CodeUnknownResource
	CodeBadJobState
	CodeUnsupportedVersion
	CodeNotAuthenticated

	// Transient - caller should retry with backoff.
	CodeStoreBusy
	CodeDeadlock
	CodeNodeDown
	CodeSchedulerBusy
	CodeMomUnreachable
	CodeAuthUnavailable

	// Internal - log and close the connection.
	CodeOutOfMemory
	CodeInvariantViolation
	CodeUnexpectedEOF
)

// Band classifies a Code into one of the three propagation bands.
type Band int

const (
	BandPermanent Band = iota
	BandTransient
	BandInternal
)

func (b Band) String() string {
	switch b {
	case BandPermanent:
		return "permanent"
	case BandTransient:
		return "transient"
	case BandInternal:
		return "internal"
	default:
		return "unknown"
	}
}

var bandOf = map[Code]Band{
	CodeProtocol:           BandPermanent,
	CodeBadAttribute:       BandPermanent,
	CodeUnknownObject:      BandPermanent,
	CodePermissionDenied:   BandPermanent,
	CodeDuplicateID:        BandPermanent,
	CodeUnknownResource:    BandPermanent,
	CodeBadJobState:        BandPermanent,
	CodeUnsupportedVersion: BandPermanent,
	CodeNotAuthenticated:   BandPermanent,

	CodeStoreBusy:       BandTransient,
	CodeDeadlock:        BandTransient,
	CodeNodeDown:        BandTransient,
	CodeSchedulerBusy:   BandTransient,
	CodeMomUnreachable:  BandTransient,
	CodeAuthUnavailable: BandTransient,

	CodeOutOfMemory:        BandInternal,
	CodeInvariantViolation: BandInternal,
	CodeUnexpectedEOF:      BandInternal,
}

var nameOf = map[Code]string{
	CodeUnknown:            "UNKNOWN",
	CodeProtocol:           "PROTOCOL",
	CodeBadAttribute:       "BAD_ATTRIBUTE",
	CodeUnknownObject:      "UNKNOWN_OBJECT",
	CodePermissionDenied:   "PERMISSION_DENIED",
	CodeDuplicateID:        "DUPLICATE_ID",
	CodeUnknownResource:    "UNKNOWN_RESOURCE",
	CodeBadJobState:        "BAD_JOB_STATE",
	CodeUnsupportedVersion: "UNSUPPORTED_VERSION",
	CodeNotAuthenticated:   "NOT_AUTHENTICATED",
	CodeStoreBusy:          "STORE_BUSY",
	CodeDeadlock:           "DEADLOCK",
	CodeNodeDown:           "NODE_DOWN",
	CodeSchedulerBusy:      "SCHEDULER_BUSY",
	CodeMomUnreachable:     "MOM_UNREACHABLE",
	CodeAuthUnavailable:    "AUTH_UNAVAILABLE",
	CodeOutOfMemory:        "OUT_OF_MEMORY",
	CodeInvariantViolation: "INVARIANT_VIOLATION",
	CodeUnexpectedEOF:      "UNEXPECTED_EOF",
}

func (c Code) String() string {
	if n, ok := nameOf[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// Band returns the propagation band for a code, defaulting to internal for
// anything not in the table so unclassified codes fail closed.
func (c Code) Band() Band {
	if b, ok := bandOf[c]; ok {
		return b
	}
	return BandInternal
}

// Retryable reports whether the caller should retry the request, i.e. the
// code's band is transient.
func (c Code) Retryable() bool {
	return c.Band() == BandTransient
}

// BatchError is the structured error carried in brp_code/brp_text on every
// reply that does not defer.
type BatchError struct {
	Code      Code
	Message   string
	Details   string
	Timestamp time.Time
	Cause     error
}

func (e *BatchError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BatchError) Unwrap() error { return e.Cause }

// Is allows errors.Is to match on Code alone.
func (e *BatchError) Is(target error) bool {
	if t, ok := target.(*BatchError); ok {
		return e.Code == t.Code
	}
	return false
}

func (e *BatchError) Retryable() bool { return e.Code.Retryable() }
func (e *BatchError) Band() Band      { return e.Code.Band() }

// New creates a BatchError with no underlying cause.
func New(code Code, message string) *BatchError {
	return &BatchError{Code: code, Message: message, Timestamp: time.Now()}
}

// Wrap creates a BatchError that carries an underlying cause.
func Wrap(code Code, message string, cause error) *BatchError {
	return &BatchError{Code: code, Message: message, Timestamp: time.Now(), Cause: cause}
}

// IsRetryable reports whether err is, or wraps, a BatchError whose band is
// transient. Errors that don't carry a BatchError are treated as not
// retryable, so unrecognized failures fail closed rather than loop forever.
func IsRetryable(err error) bool {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Retryable()
	}
	return false
}
