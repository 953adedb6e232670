// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package job implements the job state machine and scheduling cycle
// (section 4.7): an explicit state/transition table with guard checks, a
// per-job lock acquired in the fixed job->queue->server order (section 5),
// and a push-based streaming.EventSource feeding the admin live-status
// stream.
package job

import (
	"context"
	"sync"
	"time"

	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/streaming"
)

// State is one of the job lifecycle states (section 4.7's state diagram).
type State string

const (
	StateQueued      State = "QUEUED"
	StateHeld        State = "HELD"
	StateRunning     State = "RUNNING"
	StateExiting     State = "EXITING"
	StateFinished    State = "FINISHED"
	StateExpired     State = "EXPIRED"
	StateMoved       State = "MOVED"
	StateUnconfirmed State = "UNCONFIRMED" // reservation-associated jobs only
	StateConfirmed   State = "CONFIRMED"
)

// Substate augments State for the suspend/resume case (section 4.7:
// "RUNNING(substate=suspended)").
type Substate string

const (
	SubstateNone      Substate = ""
	SubstateSuspended Substate = "suspended"
)

// Trigger names an event that may move a job between states.
type Trigger string

const (
	TriggerHold     Trigger = "hold"
	TriggerRelease  Trigger = "release"
	TriggerRun      Trigger = "sched.run"
	TriggerObit     Trigger = "obit"
	TriggerFinalize Trigger = "finalize"
	TriggerStop     Trigger = "signal.stop"
	TriggerCont     Trigger = "signal.cont"
	TriggerRerun    Trigger = "rerun"
	TriggerDelete   Trigger = "delete"
	TriggerMove     Trigger = "move"
	TriggerConfirm  Trigger = "sched.confirm"
	TriggerTime     Trigger = "time"
)

// transitions is the state/trigger table from section 4.7's diagram.
// FINISHED vs EXPIRED on finalize, and local vs remote on move, are
// guard-selected rather than table entries — see the guards map below.
var transitions = map[State]map[Trigger]State{
	StateQueued: {
		TriggerHold:    StateHeld,
		TriggerRun:     StateRunning,
		TriggerMove:    StateQueued, // guard may redirect to StateMoved
		TriggerDelete:  StateExiting,
	},
	StateHeld: {
		TriggerRelease: StateQueued,
	},
	StateRunning: {
		TriggerObit:   StateExiting,
		TriggerStop:   StateRunning, // substate flips to suspended
		TriggerCont:   StateRunning,
		TriggerRerun:  StateQueued,
		TriggerDelete: StateExiting,
	},
	StateExiting: {
		TriggerFinalize: StateFinished, // guard may redirect to StateExpired
	},
	StateUnconfirmed: {
		TriggerConfirm: StateConfirmed,
	},
	StateConfirmed: {
		TriggerTime: StateRunning,
	},
}

// Guard validates a transition beyond the bare state table (section 8's
// invariants): rerun count limits, finalize's exit-status outcome, move
// destination resolution.
type Guard func(ctx context.Context, j *JobState, trigger Trigger) (State, error)

// JobState is the in-memory record the Machine transitions; it mirrors
// store.JobRow's header fields relevant to the lifecycle.
type JobState struct {
	ID         string
	Queue      string
	State      State
	Substate   Substate
	Committed  bool
	RerunCount int
	ExitStatus int
	MomAddr    string
	ExecVnode  string
}

// lockEntry is one job's reentrant-free lock plus its in-memory state.
type lockEntry struct {
	mu    sync.Mutex
	state *JobState
}

// Machine is the job lifecycle engine: lock-per-job, table-driven
// transitions, guard checks, and event publication for the live-status
// stream.
type Machine struct {
	jobLocks sync.Map // job ID -> *lockEntry
	queueMu  sync.Mutex
	serverMu sync.Mutex
	guards   map[Trigger]Guard

	subMu sync.Mutex
	subs  []chan streaming.JobEvent
}

// NewMachine builds a Machine with the default guard set.
func NewMachine() *Machine {
	m := &Machine{guards: map[Trigger]Guard{}}
	m.guards[TriggerMove] = guardMove
	m.guards[TriggerFinalize] = guardFinalize
	m.guards[TriggerRerun] = guardRerun
	return m
}

func (m *Machine) entry(id string) *lockEntry {
	v, _ := m.jobLocks.LoadOrStore(id, &lockEntry{state: &JobState{ID: id, State: StateQueued}})
	return v.(*lockEntry)
}

// Load returns a copy of a job's current in-memory state, registering it
// if unseen.
func (m *Machine) Load(id string) JobState {
	e := m.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.state
}

// Seed installs an initial JobState, e.g. after loading a row from the
// store on daemon startup.
func (m *Machine) Seed(s JobState) {
	e := m.entry(s.ID)
	e.mu.Lock()
	defer e.mu.Unlock()
	*e.state = s
}

// AcquireOrdered acquires job, queue and server locks in that fixed order
// (section 5: "job lock, then the owning queue's lock, then the server
// lock, never the reverse") and returns a release function. Passing
// needQueue/needServer as false skips acquiring locks a caller's operation
// does not need, since most transitions only ever need the job lock.
func (m *Machine) AcquireOrdered(id string, needQueue, needServer bool) (release func()) {
	e := m.entry(id)
	e.mu.Lock()
	if needQueue {
		m.queueMu.Lock()
	}
	if needServer {
		m.serverMu.Lock()
	}
	return func() {
		if needServer {
			m.serverMu.Unlock()
		}
		if needQueue {
			m.queueMu.Unlock()
		}
		e.mu.Unlock()
	}
}

// Fire applies trigger to job id's current state, running any registered
// guard, persisting the in-memory transition, and publishing a JobEvent to
// subscribers on success (section 4.7's "[FULL]" push-event note).
func (m *Machine) Fire(ctx context.Context, id string, trigger Trigger) error {
	return m.FireWithMutate(ctx, id, trigger, nil)
}

// FireWithMutate applies trigger like Fire, but additionally runs mutate
// against the job's state under the same lock before the transition is
// recorded and published -- the seam Run uses to record the mother-MoM
// exec_vnode atomically with the RUNNING transition (section 4.7).
func (m *Machine) FireWithMutate(ctx context.Context, id string, trigger Trigger, mutate func(*JobState)) error {
	e := m.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	targets, ok := transitions[e.state.State]
	if !ok {
		return batcherr.New(batcherr.CodeBadJobState, "job "+id+" has no transitions from state "+string(e.state.State))
	}
	next, ok := targets[trigger]
	if !ok {
		return batcherr.New(batcherr.CodeBadJobState, "job "+id+": trigger "+string(trigger)+" not valid from "+string(e.state.State))
	}

	if guard, ok := m.guards[trigger]; ok {
		// The guard judges the state as mutate will leave it, so a move's
		// guard sees the destination queue rather than the current one.
		candidate := *e.state
		if mutate != nil {
			mutate(&candidate)
		}
		resolved, err := guard(ctx, &candidate, trigger)
		if err != nil {
			return err
		}
		next = resolved
	}

	switch trigger {
	case TriggerStop:
		e.state.Substate = SubstateSuspended
	case TriggerCont:
		e.state.Substate = SubstateNone
	case TriggerRerun:
		e.state.RerunCount++
		e.state.ExitStatus = 0
		e.state.Substate = SubstateNone
	}

	if mutate != nil {
		mutate(e.state)
	}

	e.state.State = next
	m.publish(streaming.JobEvent{JobID: id, State: string(next), Substate: string(e.state.Substate), Timestamp: eventTime()})
	return nil
}

// Mutate applies fn to job id's state under its lock without firing a
// transition, for fields that change independently of the state table --
// e.g. the Committed flag Commit sets, which gates other requests
// (section 4.7: "Commit required before other requests reference it") but
// is not itself a state-table entry.
func (m *Machine) Mutate(id string, fn func(*JobState)) JobState {
	e := m.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
	return *e.state
}

func eventTime() time.Time { return time.Now() }

func guardMove(_ context.Context, j *JobState, _ Trigger) (State, error) {
	// A remote destination (queue name carrying an '@host' suffix) moves
	// the job off this server entirely; local moves just change queue and
	// stay QUEUED (section 4.7).
	for i := 0; i < len(j.Queue); i++ {
		if j.Queue[i] == '@' {
			return StateMoved, nil
		}
	}
	return StateQueued, nil
}

func guardFinalize(_ context.Context, j *JobState, _ Trigger) (State, error) {
	if j.ExitStatus < 0 {
		return StateExpired, nil
	}
	return StateFinished, nil
}

const maxRerunCount = 10

func guardRerun(_ context.Context, j *JobState, _ Trigger) (State, error) {
	if j.RerunCount >= maxRerunCount {
		return "", batcherr.New(batcherr.CodeBadJobState, "job "+j.ID+" exceeded max rerun count")
	}
	return StateQueued, nil
}

// publish fans JobEvent ev out to every current subscriber without
// blocking on a slow reader (events are best-effort for the live stream,
// not an audit log).
func (m *Machine) publish(ev streaming.JobEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// WatchJobs implements streaming.EventSource for job events, matching
// filter.JobIDs/States if set; the filter's other fields are not matched.
func (m *Machine) WatchJobs(ctx context.Context, filter streaming.JobFilter) (<-chan streaming.JobEvent, error) {
	ch := make(chan streaming.JobEvent, 16)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return filterJobs(ch, filter), nil
}

func filterJobs(in <-chan streaming.JobEvent, filter streaming.JobFilter) <-chan streaming.JobEvent {
	if len(filter.JobIDs) == 0 && len(filter.States) == 0 {
		return in
	}
	out := make(chan streaming.JobEvent, 16)
	go func() {
		defer close(out)
		for ev := range in {
			if matchesFilter(ev, filter) {
				out <- ev
			}
		}
	}()
	return out
}

func matchesFilter(ev streaming.JobEvent, filter streaming.JobFilter) bool {
	if len(filter.JobIDs) > 0 && !contains(filter.JobIDs, ev.JobID) {
		return false
	}
	if len(filter.States) > 0 && !contains(filter.States, ev.State) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// WatchNodes and WatchReservations are not implemented here: node
// liveness belongs to a node table, which this tree does not have, and
// reservation events to internal/resv.Engine's WatchReservations. Machine
// only implements the job slice of streaming.EventSource, and
// cmd/pbs-server passes it to streaming.NewServer on its own.
func (m *Machine) WatchNodes(ctx context.Context, filter streaming.NodeFilter) (<-chan streaming.NodeEvent, error) {
	return nil, batcherr.New(batcherr.CodeProtocol, "job.Machine does not implement node watch; compose with a node table's EventSource")
}

func (m *Machine) WatchReservations(ctx context.Context, filter streaming.ReservationFilter) (<-chan streaming.ReservationEvent, error) {
	return nil, batcherr.New(batcherr.CodeProtocol, "job.Machine does not implement reservation watch; compose with internal/resv's EventSource")
}
