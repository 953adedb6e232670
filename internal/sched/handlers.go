// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"context"
	"sync"

	"github.com/pbsgo/batchcore/internal/conn"
	"github.com/pbsgo/batchcore/internal/dispatch"
	"github.com/pbsgo/batchcore/internal/job"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// Manager tracks every connected scheduler's Registration by name (section
// 4.6: a server may have more than one scheduler registered, though only
// one is normally active) and applies PreemptJobs against internal/job.
// RegisterSchedHandlers wires it as dispatch's RegisterSched/PreemptJobs/
// DefSchReply handlers -- this package already imports internal/dispatch
// for the Reply type Registration's deferred replies carry, so the
// registration function lives here rather than in internal/dispatch to
// avoid dispatch importing sched back.
type Manager struct {
	machine *job.Machine

	mu   sync.Mutex
	regs map[string]*Registration
}

// NewManager builds an empty Manager over machine, used to drive
// PreemptJobs' victim transitions.
func NewManager(machine *job.Machine) *Manager {
	return &Manager{machine: machine, regs: map[string]*Registration{}}
}

// Register records a scheduler's Registration under name, replacing any
// prior registration of the same name (a reconnect). The primary/
// secondary connections are attached separately once the handshake layer
// exposes them to RegisterSched's handler; until then a bare Registration
// with nil connections still tracks the mailbox and deferred replies.
func (mgr *Manager) Register(name string) *Registration {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	r := NewRegistration(name, nil, nil)
	mgr.regs[name] = r
	return r
}

// Get returns name's Registration, if any.
func (mgr *Manager) Get(name string) (*Registration, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	r, ok := mgr.regs[name]
	return r, ok
}

// preemptTrigger maps one ordered PreemptMethod to the job.Trigger that
// implements it (section 4.7's preempt actions).
func preemptTrigger(method PreemptMethod) (job.Trigger, bool) {
	switch method {
	case PreemptSuspend:
		return job.TriggerStop, true
	case PreemptRequeue:
		return job.TriggerRerun, true
	case PreemptDelete:
		return job.TriggerDelete, true
	default:
		// Checkpoint has no job.Trigger of its own in this tree (no
		// checkpoint-file machinery is built); callers fall through to
		// the next method in the ordered list.
		return "", false
	}
}

// Preempt tries jobID against priority's ordered method list (section 4.6's
// 21-entry preempt table), applying the first method that succeeds and
// reporting which one it was.
func (mgr *Manager) Preempt(ctx context.Context, reg *Registration, jobID string, priority PreemptPriority) (PreemptMethod, error) {
	var lastErr error
	for _, method := range reg.PreemptOrder(priority) {
		trigger, ok := preemptTrigger(method)
		if !ok {
			continue
		}
		if err := mgr.machine.Fire(ctx, jobID, trigger); err != nil {
			lastErr = err
			continue
		}
		return method, nil
	}
	if lastErr == nil {
		lastErr = batcherr.New(batcherr.CodeBadJobState, "sched: no preempt method succeeded for job "+jobID)
	}
	return 0, lastErr
}

// RegisterSchedHandlers wires RegisterSched, DefSchReply and PreemptJobs
// against mgr (section 4.5, section 4.6).
func RegisterSchedHandlers(r *dispatch.Registry, mgr *Manager, deps dispatch.HandlerDeps) {
	r.Register(dispatch.RegisterSched, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req dispatch.Request) (dispatch.Reply, error) {
		body, ok := req.Body.(dispatch.RegisterSchedBody)
		if !ok {
			return dispatch.Reply{}, batcherr.New(batcherr.CodeProtocol, "RegisterSched: malformed body")
		}
		mgr.Register(body.Name)
		return dispatch.Reply{Tag: dispatch.ReplyNullCodeOnly}, nil
	})

	r.Register(dispatch.DefSchReply, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req dispatch.Request) (dispatch.Reply, error) {
		body, ok := req.Body.(dispatch.DefSchReplyBody)
		if !ok {
			return dispatch.Reply{}, batcherr.New(batcherr.CodeProtocol, "DefSchReply: malformed body")
		}
		reg, ok := mgr.Get(body.SchedName)
		if !ok {
			return dispatch.Reply{}, ErrNoScheduler
		}
		if body.Accept {
			reg.Resolve(body.JobID, dispatch.Reply{Tag: dispatch.ReplyJobID, Payload: body.JobID})
		} else {
			reg.Resolve(body.JobID, dispatch.Reply{})
		}
		return dispatch.Reply{Tag: dispatch.ReplyNullCodeOnly}, nil
	})

	r.Register(dispatch.PreemptJobs, deps.Logger, deps.Metrics, func(ctx context.Context, c *conn.Connection, req dispatch.Request) (dispatch.Reply, error) {
		body, ok := req.Body.(dispatch.PreemptJobsBody)
		if !ok {
			return dispatch.Reply{}, batcherr.New(batcherr.CodeProtocol, "PreemptJobs: malformed body")
		}
		reg, ok := mgr.Get(body.SchedName)
		if !ok {
			return dispatch.Reply{}, ErrNoScheduler
		}

		methods := make([]PreemptMethod, 0, len(body.JobIDs))
		var firstErr error
		for _, id := range body.JobIDs {
			method, err := mgr.Preempt(ctx, reg, id, PreemptPriority(body.Priority))
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			methods = append(methods, method)
		}
		return dispatch.Reply{Tag: dispatch.ReplyPreemptJobs, Payload: methods}, firstErr
	})
}
