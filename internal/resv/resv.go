// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package resv implements the reservation engine (section 4.8): Submit
// creates an UNCONFIRMED reservation and records the name of its
// associated queue (no queue object is created); Confirm
// moves every job already queued against that reservation to CONFIRMED;
// Begin, driven at the reservation's start time, moves them to RUNNING;
// OccurEnd runs the idempotent end-of-occurrence cleanup; Delete cascades
// a signal-then-purge across every job still in the reservation's queue.
//
// Every per-job transition reuses internal/job.Machine directly -- the
// same job lock ordering section 4.7 and internal/job already establish,
// never a second lock path for reservation-associated jobs.
package resv

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/pbsgo/batchcore/internal/job"
	"github.com/pbsgo/batchcore/internal/store"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/streaming"
)

// Reservation is the in-memory view of a pbs_resv row relevant to the
// engine's operations.
type Reservation struct {
	ID              string
	QueueName       string
	State           string
	OccurrenceToken string
}

// Engine drives reservation lifecycle operations, fanning each one out to
// every job in the reservation's queue via internal/job.Machine.
type Engine struct {
	store   *store.Store
	machine *job.Machine

	consumedMu sync.Mutex
	consumed   map[string]struct{} // occurrence tokens already cleaned up

	subMu sync.Mutex
	subs  []chan streaming.ReservationEvent
}

func NewEngine(st *store.Store, machine *job.Machine) *Engine {
	return &Engine{store: st, machine: machine, consumed: map[string]struct{}{}}
}

func (e *Engine) publish(ev streaming.ReservationEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// WatchReservations implements the reservation slice of
// streaming.EventSource, completing the composed EventSource
// internal/job.Machine's WatchNodes/WatchReservations stubs defer to
// (section 4.8, internal/job's scope note).
func (e *Engine) WatchReservations(ctx context.Context, filter streaming.ReservationFilter) (<-chan streaming.ReservationEvent, error) {
	ch := make(chan streaming.ReservationEvent, 16)
	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()

	go func() {
		<-ctx.Done()
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, c := range e.subs {
			if c == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	if len(filter.States) == 0 {
		return ch, nil
	}
	out := make(chan streaming.ReservationEvent, 16)
	go func() {
		defer close(out)
		for ev := range ch {
			for _, s := range filter.States {
				if s == ev.State {
					out <- ev
					break
				}
			}
		}
	}()
	return out, nil
}

// WatchJobs and WatchNodes are not implemented here for the same reason
// internal/job.Machine declines WatchReservations: Engine only owns the
// reservation slice of streaming.EventSource. cmd/pbs-server composes
// Engine and job.Machine together once both are wired there.
func (e *Engine) WatchJobs(ctx context.Context, filter streaming.JobFilter) (<-chan streaming.JobEvent, error) {
	return nil, batcherr.New(batcherr.CodeProtocol, "resv.Engine does not implement job watch; compose with internal/job.Machine's EventSource")
}

func (e *Engine) WatchNodes(ctx context.Context, filter streaming.NodeFilter) (<-chan streaming.NodeEvent, error) {
	return nil, batcherr.New(batcherr.CodeProtocol, "resv.Engine does not implement node watch; compose with a node table's EventSource")
}

// Submit implements SubmitResv: create the UNCONFIRMED reservation row.
// Its associated queue is named queueName; jobs destined for this
// reservation reference it as their JobRow.QueueName the same way any
// other queue submission does (section 4.8: "same lifetime" as the
// reservation).
func (e *Engine) Submit(ctx context.Context, id, queueName string) error {
	if err := e.store.SaveResv(ctx, &store.ResvRow{ID: id, QueueName: queueName, State: "UNCONFIRMED"}, store.KindInsert); err != nil {
		return err
	}
	e.publish(streaming.ReservationEvent{ResvID: id, State: "UNCONFIRMED", Timestamp: time.Now()})
	return nil
}

// Confirm implements ConfirmResv: the scheduler supplies exec_vnode and a
// start time, section 4.8's "Scheduler confirms by setting exec_vnode +
// start time". Every job already queued in the reservation's queue fires
// TriggerConfirm (UNCONFIRMED -> CONFIRMED per internal/job's transition
// table); per-job failures aggregate via multierror rather than aborting
// the whole confirm (section 2.1's aggregation pattern, same as
// DeleteJobList).
func (e *Engine) Confirm(ctx context.Context, id string, execVnode string, startTime, endTime int64) error {
	row, err := e.store.LoadResv(ctx, id)
	if err != nil {
		return err
	}
	row.State = "CONFIRMED"
	row.ExecVnode = execVnode
	row.StartTime = &startTime
	row.EndTime = &endTime
	row.OccurrenceToken = uuid.New().String()
	if err := e.store.SaveResv(ctx, row, store.KindQuick); err != nil {
		return err
	}
	err = e.fireAcrossQueue(ctx, row.QueueName, job.TriggerConfirm)
	e.publish(streaming.ReservationEvent{ResvID: id, State: "CONFIRMED", Timestamp: time.Now()})
	return err
}

// Begin implements BeginResv: at the reservation's start time, atomically
// transition its queue to runnable (section 4.8) by firing TriggerTime on
// every job (CONFIRMED -> RUNNING(reservation) per internal/job's table).
func (e *Engine) Begin(ctx context.Context, id string) error {
	row, err := e.store.LoadResv(ctx, id)
	if err != nil {
		return err
	}
	row.State = "RUNNING"
	if err := e.store.SaveResv(ctx, row, store.KindQuick); err != nil {
		return err
	}
	err = e.fireAcrossQueue(ctx, row.QueueName, job.TriggerTime)
	e.publish(streaming.ReservationEvent{ResvID: id, State: "RUNNING", Timestamp: time.Now()})
	return err
}

// OccurEnd implements ResvOccurEnd: idempotent end-of-occurrence cleanup.
// A second delivery for the same occurrence token (section 4.8's stored,
// google/uuid-derived idempotency key) is a no-op rather than re-running
// the cascade.
func (e *Engine) OccurEnd(ctx context.Context, id string) error {
	row, err := e.store.LoadResv(ctx, id)
	if err != nil {
		return err
	}
	if row.OccurrenceToken == "" {
		return batcherr.New(batcherr.CodeBadJobState, "reservation "+id+" has no occurrence token to close")
	}

	e.consumedMu.Lock()
	_, already := e.consumed[row.OccurrenceToken]
	if !already {
		e.consumed[row.OccurrenceToken] = struct{}{}
	}
	e.consumedMu.Unlock()
	if already {
		return nil
	}

	return e.Delete(ctx, id)
}

// Delete implements DeleteResv and ResvOccurEnd's cascade: signal then
// purge every job still in the reservation's queue (TriggerDelete then
// TriggerFinalize, mirroring internal/job.Service.Delete), then remove the
// reservation row.
func (e *Engine) Delete(ctx context.Context, id string) error {
	row, err := e.store.LoadResv(ctx, id)
	if err != nil {
		return err
	}

	var result *multierror.Error
	cur, err := e.store.FindJobs(ctx, store.JobQuery{QueueName: row.QueueName})
	if err != nil {
		return err
	}
	defer cur.Close()

	for {
		var jr store.JobRow
		ok, err := cur.Next(&jr)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		if !ok {
			break
		}
		if err := e.machine.Fire(ctx, jr.ID, job.TriggerDelete); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := e.machine.Fire(ctx, jr.ID, job.TriggerFinalize); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := e.store.DeleteJob(ctx, jr.ID); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := e.store.DeleteResv(ctx, id); err != nil {
		result = multierror.Append(result, err)
	}
	e.publish(streaming.ReservationEvent{ResvID: id, State: "DELETED", Timestamp: time.Now()})
	return result.ErrorOrNil()
}

// fireAcrossQueue fires trigger on every job in queueName's queue,
// aggregating per-job failures.
func (e *Engine) fireAcrossQueue(ctx context.Context, queueName string, trigger job.Trigger) error {
	cur, err := e.store.FindJobs(ctx, store.JobQuery{QueueName: queueName})
	if err != nil {
		return err
	}
	defer cur.Close()

	var result *multierror.Error
	for {
		var jr store.JobRow
		ok, err := cur.Next(&jr)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		if !ok {
			break
		}
		if err := e.machine.Fire(ctx, jr.ID, trigger); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
