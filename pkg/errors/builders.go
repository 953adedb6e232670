// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import "fmt"

// Builder functions for the codes handlers reach for most often. Each
// mirrors a concrete condition named in the protocol's failure semantics
// (section 4.9) rather than a generic wrapper, so call sites read like the
// condition they observed.

func Protocol(reason string) *BatchError {
	return New(CodeProtocol, "protocol error: "+reason)
}

func BadAttribute(name, reason string) *BatchError {
	return New(CodeBadAttribute, fmt.Sprintf("bad attribute %q: %s", name, reason))
}

func UnknownObject(kind, id string) *BatchError {
	return New(CodeUnknownObject, fmt.Sprintf("unknown %s: %s", kind, id))
}

func PermissionDenied(who, what string) *BatchError {
	return New(CodePermissionDenied, fmt.Sprintf("%s not permitted to %s", who, what))
}

func DuplicateID(id string) *BatchError {
	return New(CodeDuplicateID, "duplicate id: "+id)
}

func UnknownResource(name string) *BatchError {
	return New(CodeUnknownResource, "unknown resource: "+name)
}

func BadJobState(jobID, state, action string) *BatchError {
	return New(CodeBadJobState, fmt.Sprintf("job %s in state %s cannot %s", jobID, state, action))
}

func UnsupportedVersion(got, want int) *BatchError {
	return New(CodeUnsupportedVersion, fmt.Sprintf("unsupported protocol version %d, want %d", got, want))
}

func NotAuthenticated() *BatchError {
	return New(CodeNotAuthenticated, "connection has not completed authentication")
}

func StoreBusy(cause error) *BatchError {
	return Wrap(CodeStoreBusy, "object store busy", cause)
}

func Deadlock(objA, objB string) *BatchError {
	return New(CodeDeadlock, fmt.Sprintf("lock ordering violation between %s and %s", objA, objB))
}

func NodeDown(vnode string) *BatchError {
	return New(CodeNodeDown, "node temporarily unavailable: "+vnode)
}

func SchedulerBusy(name string) *BatchError {
	return New(CodeSchedulerBusy, "scheduler cycle already in progress: "+name)
}

func MomUnreachable(addr string, cause error) *BatchError {
	return Wrap(CodeMomUnreachable, "MoM unreachable: "+addr, cause)
}

func AuthUnavailable(method string, cause error) *BatchError {
	return Wrap(CodeAuthUnavailable, "auth method temporarily unavailable: "+method, cause)
}

func Internal(reason string, cause error) *BatchError {
	return Wrap(CodeInvariantViolation, reason, cause)
}

func UnexpectedEOF() *BatchError {
	return New(CodeUnexpectedEOF, "unexpected end of stream")
}
