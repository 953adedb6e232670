// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"context"

	"github.com/pbsgo/batchcore/internal/dispatch"
	"github.com/pbsgo/batchcore/internal/store"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
)

// Service adapts a Machine plus the object store to the narrow
// dispatch.JobService interface the request dispatcher calls through
// (section 4.5's handler bodies, section 4.7's lifecycle operations).
type Service struct {
	machine *Machine
	store   *store.Store
}

func NewService(machine *Machine, st *store.Store) *Service {
	return &Service{machine: machine, store: st}
}

// Queue implements QueueJob: seed the in-memory state, persist the insert
// row. The attribute entries are accepted but neither applied nor
// persisted: Queue only seeds the state machine and writes the header row
// (ID, queue, state).
func (s *Service) Queue(ctx context.Context, jobID, queue string, entries []dispatch.AttrEntry) error {
	s.machine.Seed(JobState{ID: jobID, Queue: queue, State: StateQueued})
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: queue, State: string(StateQueued)}, store.KindInsert)
}

// Delete implements DeleteJob/DeleteJobList's per-job body: drive the job
// to EXITING (signal then obit, per section 4.7) and remove its store row.
// Fire/FireWithMutate each take the job lock independently for the
// duration of one transition; Delete does not hold it across both calls,
// since the job legitimately has observable state (EXITING) between the
// signal and the obit in the real protocol.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if err := s.machine.Fire(ctx, jobID, TriggerDelete); err != nil {
		return err
	}
	if err := s.machine.Fire(ctx, jobID, TriggerFinalize); err != nil {
		return err
	}
	return s.store.DeleteJob(ctx, jobID)
}

// Hold implements HoldJob.
func (s *Service) Hold(ctx context.Context, jobID, holdType string) error {
	if err := s.machine.Fire(ctx, jobID, TriggerHold); err != nil {
		return err
	}
	st := s.machine.Load(jobID)
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: st.Queue, State: string(st.State)}, store.KindQuick)
}

// Release implements ReleaseJob.
func (s *Service) Release(ctx context.Context, jobID, holdType string) error {
	if err := s.machine.Fire(ctx, jobID, TriggerRelease); err != nil {
		return err
	}
	st := s.machine.Load(jobID)
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: st.Queue, State: string(st.State)}, store.KindQuick)
}

// JobScript implements JobScript: store the submitted script body against
// the job's row (section 4.7's partial-submit sequence: QueueJob seeds the
// header, JobScript attaches the body, Commit closes the submission).
func (s *Service) JobScript(ctx context.Context, jobID, script string) error {
	row, err := s.store.LoadJob(ctx, jobID)
	if err != nil {
		return err
	}
	row.Script = script
	return s.store.SaveJob(ctx, row, store.KindFull)
}

// RdyToCommit implements RdyToCommit: the client announces it is about to
// send Commit; this only checks that the job is known to the store, since
// the actual state flip happens on Commit itself.
func (s *Service) RdyToCommit(ctx context.Context, jobID string) error {
	_, err := s.store.LoadJob(ctx, jobID)
	return err
}

// Commit implements Commit: marks the job's partial submission closed
// (section 4.7: "Commit required before other requests reference it").
// Committed is a flag, not a state-table transition, so it goes through
// Machine.Mutate rather than Fire.
func (s *Service) Commit(ctx context.Context, jobID string) error {
	st := s.machine.Mutate(jobID, func(js *JobState) { js.Committed = true })
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: st.Queue, State: string(st.State)}, store.KindQuick)
}

// requireCommitted returns CodeBadJobState if jobID has not yet completed
// Commit -- the guard other request types consult before referencing a
// job that is still mid-submission (section 4.7).
func (s *Service) requireCommitted(jobID string) error {
	if !s.machine.Load(jobID).Committed {
		return batcherr.New(batcherr.CodeBadJobState, "job "+jobID+" has not been committed yet")
	}
	return nil
}

// MoveJob implements MoveJob: redirect the job to a new destination queue,
// local or remote (guardMove resolves StateQueued vs StateMoved from the
// '@host' suffix, section 4.7).
func (s *Service) MoveJob(ctx context.Context, jobID, destination string) error {
	if err := s.requireCommitted(jobID); err != nil {
		return err
	}
	if err := s.machine.FireWithMutate(ctx, jobID, TriggerMove, func(js *JobState) {
		js.Queue = destination
	}); err != nil {
		return err
	}
	st := s.machine.Load(jobID)
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: st.Queue, State: string(st.State)}, store.KindQuick)
}

// ModifyJob implements ModifyJob: merge attribute changes into the job's
// sparse attribute column without touching the lifecycle state (section
// 4.3's AddUpdateAttr operation, applied through the job path).
func (s *Service) ModifyJob(ctx context.Context, jobID string, entries []dispatch.AttrEntry) error {
	if err := s.requireCommitted(jobID); err != nil {
		return err
	}
	sparse := make([]store.SparseAttrEntry, 0, len(entries))
	for _, e := range entries {
		key := e.Name
		if e.Resource != "" {
			key = e.Name + "." + e.Resource
		}
		sparse = append(sparse, store.SparseAttrEntry{Key: key, Value: e.Value})
	}
	return s.store.AddUpdateJobAttrs(ctx, jobID, sparse)
}

// SignalJob implements SignalJob for the two signals the lifecycle state
// table models directly -- suspend and resume (section 4.7's "RUNNING
// (substate=suspended)"); any other signal name is forwarded to the MoM
// by the caller and never reaches the state machine, so it is rejected
// here rather than silently accepted.
func (s *Service) SignalJob(ctx context.Context, jobID, signal string) error {
	var trigger Trigger
	switch signal {
	case "suspend", "admin-suspend":
		trigger = TriggerStop
	case "resume":
		trigger = TriggerCont
	default:
		return batcherr.New(batcherr.CodeProtocol, "SignalJob: "+signal+" is not a lifecycle signal, forward to the MoM instead")
	}
	if err := s.machine.Fire(ctx, jobID, trigger); err != nil {
		return err
	}
	st := s.machine.Load(jobID)
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: st.Queue, State: string(st.State), Substate: string(st.Substate)}, store.KindQuick)
}

// Rerun implements Rerun: RUNNING -> QUEUED, discarding the exit status and
// incrementing the rerun counter (guardRerun caps it at maxRerunCount). The
// job script itself is never touched -- Rerun only resets the lifecycle
// bookkeeping FireWithMutate's TriggerRerun case clears.
func (s *Service) Rerun(ctx context.Context, jobID string) error {
	if err := s.machine.Fire(ctx, jobID, TriggerRerun); err != nil {
		return err
	}
	st := s.machine.Load(jobID)
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: st.Queue, State: string(st.State)}, store.KindQuick)
}

// Run implements RunJob: record the mother-MoM vnode atomically with the
// state transition (section 4.7: "records mother-MoM address atomically
// with the state transition").
func (s *Service) Run(ctx context.Context, jobID, execVnode string) error {
	if err := s.machine.FireWithMutate(ctx, jobID, TriggerRun, func(js *JobState) {
		js.ExecVnode = execVnode
	}); err != nil {
		return err
	}

	st := s.machine.Load(jobID)
	return s.store.SaveJob(ctx, &store.JobRow{ID: jobID, QueueName: st.Queue, State: string(st.State), ExecVnode: st.ExecVnode}, store.KindQuick)
}
