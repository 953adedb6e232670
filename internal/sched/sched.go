// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package sched implements the scheduler protocol (section 4.6): a
// Registration per connected scheduler carrying its primary and secondary
// channels, a coalescing command mailbox, and deferred-reply bookkeeping
// resolved at cycle close.
package sched

import (
	"sync"

	"github.com/pbsgo/batchcore/internal/conn"
	"github.com/pbsgo/batchcore/internal/dispatch"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// Command is one of svr_do_schedule's cycle-trigger reasons (section 4.6),
// each with a "_high" (urgent) variant.
type Command int

const (
	CommandNull Command = iota
	CommandNew
	CommandTerm
	CommandTime
	CommandJobNew
	CommandJobRun
	CommandJobResv
	CommandScheduleFirst
	CommandNullHigh
	CommandNewHigh
	CommandTermHigh
	CommandTimeHigh
	CommandJobNewHigh
	CommandJobRunHigh
	CommandJobResvHigh
	CommandScheduleFirstHigh
)

// IsHigh reports whether c is the urgent variant of its base command.
func (c Command) IsHigh() bool { return c >= CommandNullHigh }

// PreemptMethod is one of the ordered actions tried against a victim job
// (section 4.7: "per-scheduler ordered {suspend, checkpoint, requeue,
// delete}, first success recorded as preempt-method").
type PreemptMethod int

const (
	PreemptSuspend PreemptMethod = iota
	PreemptCheckpoint
	PreemptRequeue
	PreemptDelete
)

// PreemptPriority indexes the 21-entry preempt-order table (section 4.6):
// one ordered method list per priority level a scheduler may assign a
// preemptable job to.
type PreemptPriority int

const PreemptPriorityCount = 21

// DefaultPreemptTable is the 21-entry table of ordered preempt-method
// lists, indexed by PreemptPriority. Every priority defaults to the full
// suspend-first order; a scheduler registration may override individual
// entries (e.g. a priority reserved for "never checkpoint" queues).
func DefaultPreemptTable() [PreemptPriorityCount][]PreemptMethod {
	var t [PreemptPriorityCount][]PreemptMethod
	for i := range t {
		t[i] = []PreemptMethod{PreemptSuspend, PreemptCheckpoint, PreemptRequeue, PreemptDelete}
	}
	return t
}

// CommandMailbox is a capacity-1 buffered channel with coalescing-on-send
// (section 9: "small channel... coalescing is explicit"): a command
// already buffered and not yet drained is replaced in place rather than
// queued, so concurrent triggers collapse into the next cycle instead of
// piling up.
type CommandMailbox struct {
	mu      sync.Mutex
	ch      chan Command
	pending bool
	last    Command
}

func NewCommandMailbox() *CommandMailbox {
	return &CommandMailbox{ch: make(chan Command, 1)}
}

// Send coalesces cmd into the mailbox: a no-op if an identical command is
// already buffered (or received but not yet marked Drained), otherwise
// replaces any buffered command with cmd.
func (m *CommandMailbox) Send(cmd Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending && m.last == cmd {
		return
	}
	select {
	case <-m.ch: // drain the stale buffered command before replacing it
	default: // already received by the reader, nothing to drain
	}
	m.ch <- cmd
	m.pending = true
	m.last = cmd
}

// Recv blocks until a command is available, as the scheduler's read loop
// does between cycles.
func (m *CommandMailbox) Recv() <-chan Command {
	return m.ch
}

// Drained marks the most recently sent command as consumed, allowing a
// subsequent Send to buffer again instead of coalescing against it.
func (m *CommandMailbox) Drained() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
}

// CycleStatus names how a scheduling cycle ended (section 4.6).
type CycleStatus int

const (
	CycleSuccess CycleStatus = iota
	CycleInterrupted
)

// DeferredReply is what a deferred RunJob eventually resolves to: either a
// Reply on the success path, or Err set on the interrupted path (section
// 4.9's connection-closed-equivalent).
type DeferredReply struct {
	Reply dispatch.Reply
	Err   error
}

// deferredEntry pairs a job ID with its reply channel and arrival order,
// so success-path resolution can drain in FIFO order (section 4.6).
type deferredEntry struct {
	jobID string
	reply chan DeferredReply
}

// Registration is one connected scheduler (mirrors section 3's Scheduler
// entity): its primary/secondary connections, command mailbox, and the
// deferred AsyrunJob-style replies awaiting cycle close.
type Registration struct {
	Name      string
	Primary   *conn.Connection
	Secondary *conn.Connection
	Mailbox   *CommandMailbox

	PreemptTable [PreemptPriorityCount][]PreemptMethod

	mu       sync.Mutex
	deferred []deferredEntry
	byJob    map[string]*deferredEntry
}

// NewRegistration builds a Registration for a scheduler that has completed
// RegisterSched on its primary channel (section 4.6).
func NewRegistration(name string, primary, secondary *conn.Connection) *Registration {
	return &Registration{
		Name:         name,
		Primary:      primary,
		Secondary:    secondary,
		Mailbox:      NewCommandMailbox(),
		PreemptTable: DefaultPreemptTable(),
		byJob:        map[string]*deferredEntry{},
	}
}

// Defer registers jobID's RunJob as deferred (AsyrunJob path: the
// dispatcher replies once the primary MoM acks QueueJob, with the final
// ack arriving later) and returns the channel its eventual DeferredReply
// will arrive on.
func (r *Registration) Defer(jobID string) <-chan DeferredReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan DeferredReply, 1)
	e := &deferredEntry{jobID: jobID, reply: ch}
	r.deferred = append(r.deferred, *e)
	r.byJob[jobID] = e
	return ch
}

// Resolve answers jobID's deferred reply, e.g. when AsyrunJob_ack arrives
// for it outside of a cycle close.
func (r *Registration) Resolve(jobID string, reply dispatch.Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveLocked(jobID, DeferredReply{Reply: reply})
}

func (r *Registration) resolveLocked(jobID string, dr DeferredReply) {
	e, ok := r.byJob[jobID]
	if !ok {
		return
	}
	e.reply <- dr
	delete(r.byJob, jobID)
	for i, d := range r.deferred {
		if d.jobID == jobID {
			r.deferred = append(r.deferred[:i], r.deferred[i+1:]...)
			break
		}
	}
}

// ErrCycleInterrupted is the connection-closed-equivalent error every
// still-open deferred reply receives when a cycle ends interrupted
// (section 4.9).
var ErrCycleInterrupted = batcherr.New(batcherr.CodeMomUnreachable, "sched: scheduling cycle interrupted before this job's RunJob was acked")

// HandleDeferredCycleClose resolves every still-open deferred reply when
// the scheduler signals cycle end (section 4.6): on CycleSuccess, drains
// in FIFO arrival order answering each with a success reply; on
// CycleInterrupted, answers every still-open entry with
// ErrCycleInterrupted (section 4.9).
func (r *Registration) HandleDeferredCycleClose(status CycleStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]deferredEntry, len(r.deferred))
	copy(pending, r.deferred)

	for _, e := range pending {
		if status == CycleInterrupted {
			r.resolveLocked(e.jobID, DeferredReply{Err: ErrCycleInterrupted})
			continue
		}
		r.resolveLocked(e.jobID, DeferredReply{Reply: dispatch.Reply{Tag: dispatch.ReplyNullCodeOnly}})
	}
}

// PreemptOrder returns the ordered method list for a registration's given
// priority, clamping out-of-range priorities to the table bounds.
func (r *Registration) PreemptOrder(priority PreemptPriority) []PreemptMethod {
	if priority < 0 {
		priority = 0
	}
	if priority >= PreemptPriorityCount {
		priority = PreemptPriorityCount - 1
	}
	return r.PreemptTable[priority]
}

// ErrNoScheduler is returned when a cycle-affecting operation names a
// scheduler that has not registered.
var ErrNoScheduler = batcherr.New(batcherr.CodeProtocol, "sched: no scheduler registered")
