// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch implements the polling-based default for
// streaming.EventSource: periodically snapshot the object store's job,
// node and reservation tables, diff against the previous snapshot, and
// emit the difference as streaming events. internal/job.Machine is a
// push-based source for job events (the state machine notifying
// subscribers directly); this package is a source that needs only the
// store.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/pbsgo/batchcore/pkg/streaming"
)

// DefaultPollInterval matches the object store's typical snapshot age
// tolerance for the admin stream; real state changes are still reflected
// within one interval.
const DefaultPollInterval = 5 * time.Second

// JobSnapshot is the minimal per-job state a poller needs to detect a
// transition; the object store layer adapts its Job rows into this.
type JobSnapshot struct {
	JobID string
	State string
}

// JobLister returns the current set of job snapshots matching whatever
// server-side filtering the store applies.
type JobLister func(ctx context.Context) ([]JobSnapshot, error)

// JobPoller diffs successive JobLister snapshots into streaming.JobEvent.
type JobPoller struct {
	list         JobLister
	pollInterval time.Duration
	bufferSize   int

	mu     sync.Mutex
	states map[string]string
}

func NewJobPoller(list JobLister) *JobPoller {
	return &JobPoller{
		list:         list,
		pollInterval: DefaultPollInterval,
		bufferSize:   100,
		states:       make(map[string]string),
	}
}

func (p *JobPoller) WithPollInterval(d time.Duration) *JobPoller { p.pollInterval = d; return p }
func (p *JobPoller) WithBufferSize(n int) *JobPoller             { p.bufferSize = n; return p }

// WatchJobs implements streaming.EventSource.
func (p *JobPoller) WatchJobs(ctx context.Context, filter streaming.JobFilter) (<-chan streaming.JobEvent, error) {
	ch := make(chan streaming.JobEvent, p.bufferSize)
	go p.run(ctx, filter, ch)
	return ch, nil
}

func (p *JobPoller) run(ctx context.Context, filter streaming.JobFilter, ch chan<- streaming.JobEvent) {
	defer close(ch)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll(ctx, filter, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, filter, ch)
		}
	}
}

func (p *JobPoller) poll(ctx context.Context, filter streaming.JobFilter, ch chan<- streaming.JobEvent) {
	snapshots, err := p.list(ctx)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(snapshots))
	for _, snap := range snapshots {
		if !matchesJobIDs(filter.JobIDs, snap.JobID) {
			continue
		}
		seen[snap.JobID] = true

		prev, exists := p.states[snap.JobID]
		p.states[snap.JobID] = snap.State
		if !exists || prev == snap.State {
			continue
		}
		ch <- streaming.JobEvent{JobID: snap.JobID, State: snap.State, Timestamp: time.Now()}
	}

	for jobID := range p.states {
		if !seen[jobID] {
			delete(p.states, jobID)
			ch <- streaming.JobEvent{JobID: jobID, State: "FINISHED", Timestamp: time.Now()}
		}
	}
}

func matchesJobIDs(wanted []string, jobID string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, id := range wanted {
		if id == jobID {
			return true
		}
	}
	return false
}

// NodeSnapshot is the minimal per-node state a poller needs.
type NodeSnapshot struct {
	Vnode string
	State string
}

type NodeLister func(ctx context.Context) ([]NodeSnapshot, error)

// NodePoller diffs successive NodeLister snapshots into streaming.NodeEvent.
type NodePoller struct {
	list         NodeLister
	pollInterval time.Duration
	bufferSize   int

	mu     sync.Mutex
	states map[string]string
}

func NewNodePoller(list NodeLister) *NodePoller {
	return &NodePoller{
		list:         list,
		pollInterval: DefaultPollInterval,
		bufferSize:   100,
		states:       make(map[string]string),
	}
}

func (p *NodePoller) WithPollInterval(d time.Duration) *NodePoller { p.pollInterval = d; return p }
func (p *NodePoller) WithBufferSize(n int) *NodePoller             { p.bufferSize = n; return p }

// WatchNodes implements streaming.EventSource.
func (p *NodePoller) WatchNodes(ctx context.Context, filter streaming.NodeFilter) (<-chan streaming.NodeEvent, error) {
	ch := make(chan streaming.NodeEvent, p.bufferSize)
	go p.run(ctx, filter, ch)
	return ch, nil
}

func (p *NodePoller) run(ctx context.Context, filter streaming.NodeFilter, ch chan<- streaming.NodeEvent) {
	defer close(ch)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll(ctx, filter, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, filter, ch)
		}
	}
}

func (p *NodePoller) poll(ctx context.Context, filter streaming.NodeFilter, ch chan<- streaming.NodeEvent) {
	snapshots, err := p.list(ctx)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, snap := range snapshots {
		if !matchesVnodes(filter.Vnodes, snap.Vnode) {
			continue
		}
		prev, exists := p.states[snap.Vnode]
		p.states[snap.Vnode] = snap.State
		if exists && prev != snap.State {
			ch <- streaming.NodeEvent{Vnode: snap.Vnode, State: snap.State, Timestamp: time.Now()}
		}
	}
}

func matchesVnodes(wanted []string, vnode string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, v := range wanted {
		if v == vnode {
			return true
		}
	}
	return false
}

// ReservationSnapshot is the minimal per-reservation state a poller needs.
type ReservationSnapshot struct {
	ResvID string
	State  string
}

type ReservationLister func(ctx context.Context) ([]ReservationSnapshot, error)

// ReservationPoller diffs successive snapshots into streaming.ReservationEvent.
type ReservationPoller struct {
	list         ReservationLister
	pollInterval time.Duration
	bufferSize   int

	mu     sync.Mutex
	states map[string]string
}

func NewReservationPoller(list ReservationLister) *ReservationPoller {
	return &ReservationPoller{
		list:         list,
		pollInterval: DefaultPollInterval,
		bufferSize:   100,
		states:       make(map[string]string),
	}
}

func (p *ReservationPoller) WithPollInterval(d time.Duration) *ReservationPoller {
	p.pollInterval = d
	return p
}
func (p *ReservationPoller) WithBufferSize(n int) *ReservationPoller { p.bufferSize = n; return p }

// WatchReservations implements streaming.EventSource.
func (p *ReservationPoller) WatchReservations(ctx context.Context, filter streaming.ReservationFilter) (<-chan streaming.ReservationEvent, error) {
	ch := make(chan streaming.ReservationEvent, p.bufferSize)
	go p.run(ctx, ch)
	return ch, nil
}

func (p *ReservationPoller) run(ctx context.Context, ch chan<- streaming.ReservationEvent) {
	defer close(ch)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll(ctx, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, ch)
		}
	}
}

func (p *ReservationPoller) poll(ctx context.Context, ch chan<- streaming.ReservationEvent) {
	snapshots, err := p.list(ctx)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, snap := range snapshots {
		prev, exists := p.states[snap.ResvID]
		p.states[snap.ResvID] = snap.State
		if exists && prev != snap.State {
			ch <- streaming.ReservationEvent{ResvID: snap.ResvID, State: snap.State, Timestamp: time.Now()}
		}
	}
}

// MultiPoller bundles the three pollers behind a single
// streaming.EventSource, the default wired in by the admin HTTP surface.
type MultiPoller struct {
	Jobs         *JobPoller
	Nodes        *NodePoller
	Reservations *ReservationPoller
}

func (m *MultiPoller) WatchJobs(ctx context.Context, filter streaming.JobFilter) (<-chan streaming.JobEvent, error) {
	return m.Jobs.WatchJobs(ctx, filter)
}

func (m *MultiPoller) WatchNodes(ctx context.Context, filter streaming.NodeFilter) (<-chan streaming.NodeEvent, error) {
	return m.Nodes.WatchNodes(ctx, filter)
}

func (m *MultiPoller) WatchReservations(ctx context.Context, filter streaming.ReservationFilter) (<-chan streaming.ReservationEvent, error) {
	return m.Reservations.WatchReservations(ctx, filter)
}
