// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package exec implements the execution fan-out (section 4.9, C8): the
// primary-MoM sub-request sequence a RunJob issues (QueueJob, JobScript,
// Commit, RunJob) and the sister-MoM IM hello multicast that must also
// succeed before a job is recorded RUNNING, plus the JOBOBIT path that
// drives a running job back to EXITING/FINISHED.
//
// Primary MoM speaks IM (MT, version 6) and IS (version 4); IS message
// type names are carried verbatim as the MessageType enum below.
package exec

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pbsgo/batchcore/internal/dis"
	"github.com/pbsgo/batchcore/internal/job"
	batcherr "github.com/pbsgo/batchcore/pkg/errors"
	"github.com/pbsgo/batchcore/pkg/logging"
	"github.com/pbsgo/batchcore/pkg/pool"
	"github.com/pbsgo/batchcore/pkg/retry"
)

// MessageType is the IS protocol (version 4) message type enum, named
// verbatim in section 4.9.
type MessageType string

const (
	MsgCmd                       MessageType = "CMD"
	MsgCmdReply                  MessageType = "CMD_REPLY"
	MsgClusterAddrs              MessageType = "CLUSTER_ADDRS"
	MsgUpdate                    MessageType = "UPDATE"
	MsgUpdate2                   MessageType = "UPDATE2"
	MsgUpdateFromHook            MessageType = "UPDATE_FROM_HOOK"
	MsgUpdateFromHook2           MessageType = "UPDATE_FROM_HOOK2"
	MsgRescUsed                  MessageType = "RESCUSED"
	MsgRescUsedFromHook          MessageType = "RESCUSED_FROM_HOOK"
	MsgJobObit                   MessageType = "JOBOBIT"
	MsgObitReply                 MessageType = "OBITREPLY"
	MsgReplyHello                MessageType = "REPLYHELLO"
	MsgShutdown                  MessageType = "SHUTDOWN"
	MsgIdle                      MessageType = "IDLE"
	MsgRegisterMom               MessageType = "REGISTERMOM"
	MsgDiscardJob                MessageType = "DISCARD_JOB"
	MsgDiscardDone               MessageType = "DISCARD_DONE"
	MsgHookJobAction             MessageType = "HOOK_JOB_ACTION"
	MsgHookActionAck             MessageType = "HOOK_ACTION_ACK"
	MsgHookSchedulerRestartCycle MessageType = "HOOK_SCHEDULER_RESTART_CYCLE"
	MsgHookChecksums             MessageType = "HOOK_CHECKSUMS"
	MsgHelloSvr                  MessageType = "HELLOSVR"

	imProtocolVersion = 6
	isProtocolVersion = 4
)

// IsFullUpdate reports whether mt is a full vnode table (UPDATE) rather
// than a delta (UPDATE2).
func (mt MessageType) IsFullUpdate() bool { return mt == MsgUpdate || mt == MsgUpdateFromHook }

// MoM identifies one execution-host endpoint.
type MoM struct {
	Addr string
	Port int
}

func (m MoM) hostport() string { return fmt.Sprintf("%s:%d", m.Addr, m.Port) }

// PeerResult reports one sister MoM's hello outcome, joined from the
// errgroup fan-out (section 5).
type PeerResult struct {
	Peer MoM
	Err  error
}

// Launcher drives RunJob's per-MoM sub-request sequence and the sister
// multicast, against a pooled outbound connection per remote endpoint
// (section 3: one dialed connection per address, idle-swept at 900s).
type Launcher struct {
	pool    *pool.ConnPool
	sweeper *pool.Sweeper
	machine *job.Machine
	policy  retry.Policy
	logger  logging.Logger
}

// NewLauncher builds a Launcher over pool/sweeper, defaulting to a banded
// backoff of up to three retries, retrying only transient (MoM-unreachable)
// failures (section 4.9).
func NewLauncher(p *pool.ConnPool, sweeper *pool.Sweeper, machine *job.Machine, logger logging.Logger) *Launcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Launcher{pool: p, sweeper: sweeper, machine: machine, policy: retry.NewBandedBackoff(), logger: logger}
}

// Launch runs RunJob's exec fan-out: the primary-MoM sub-request sequence
// (QueueJob, JobScript, Commit, RunJob), then an IM hello to every sister
// concurrently. A sister-MoM failure during launch makes Launch return a
// CodeMomUnreachable error without recording the job RUNNING; no abort is
// sent to the primary MoM and no early obit is produced. Sister loss after
// launch is not reported here.
func (l *Launcher) Launch(ctx context.Context, jobID string, primary MoM, sisters []MoM, execVnode string) ([]PeerResult, error) {
	if err := l.sendPrimarySequence(ctx, primary, jobID); err != nil {
		return nil, err
	}

	results := l.helloSisters(ctx, jobID, sisters)
	for _, r := range results {
		if r.Err != nil {
			l.logger.Warn("sister MoM hello failed, aborting launch", "job_id", jobID, "peer", r.Peer.hostport(), "error", r.Err)
			return results, batcherr.New(batcherr.CodeMomUnreachable, "sister "+r.Peer.hostport()+" unreachable during launch: "+r.Err.Error())
		}
	}

	if err := l.machine.FireWithMutate(ctx, jobID, job.TriggerRun, func(js *job.JobState) {
		js.ExecVnode = execVnode
		js.MomAddr = primary.Addr
	}); err != nil {
		return results, err
	}
	l.logger.Info("job launched", "job_id", jobID, "primary", primary.hostport(), "sisters", len(sisters))
	return results, nil
}

// sendPrimarySequence dials (or reuses) the pooled connection to primary
// and writes the QueueJob/JobScript/Commit/RunJob header sequence RunJob
// issues against the mother MoM, retried under the banded backoff policy
// on transient dial/write failures.
func (l *Launcher) sendPrimarySequence(ctx context.Context, primary MoM, jobID string) error {
	steps := []string{"QueueJob", "JobScript", "Commit", "RunJob"}
	return retry.Do(ctx, l.policy, func() error {
		conn, err := l.sweeper.GetHealthy(ctx, primary.hostport())
		if err != nil {
			return batcherr.MomUnreachable(primary.hostport(), err)
		}
		ch := dis.NewChan(conn, dis.TransportMT)
		for _, step := range steps {
			if err := ch.WriteHeader(dis.Header{ProtocolType: dis.ProtocolType, ProtocolVersion: imProtocolVersion, RequestType: step, User: jobID}); err != nil {
				l.pool.Invalidate(primary.hostport())
				return batcherr.MomUnreachable(primary.hostport(), err)
			}
		}
		return ch.Flush()
	})
}

// helloSisters multicasts an IM hello to every sister MoM concurrently,
// joining the per-peer outcomes via errgroup (section 5: "errgroup joins
// sister-MoM multicast into the all-or-each []PeerResult the spec
// requires").
func (l *Launcher) helloSisters(ctx context.Context, jobID string, sisters []MoM) []PeerResult {
	results := make([]PeerResult, len(sisters))
	g, gctx := errgroup.WithContext(ctx)
	for i, sister := range sisters {
		i, sister := i, sister
		g.Go(func() error {
			err := l.sendHello(gctx, sister, jobID)
			results[i] = PeerResult{Peer: sister, Err: err}
			return nil // per-peer errors are reported in results, not joined
		})
	}
	_ = g.Wait()
	return results
}

func (l *Launcher) sendHello(ctx context.Context, sister MoM, jobID string) error {
	conn, err := l.sweeper.GetHealthy(ctx, sister.hostport())
	if err != nil {
		return batcherr.MomUnreachable(sister.hostport(), err)
	}
	ch := dis.NewChan(conn, dis.TransportMT)
	if err := ch.WriteHeader(dis.Header{ProtocolType: dis.ProtocolType, ProtocolVersion: imProtocolVersion, RequestType: string(MsgHelloSvr), User: jobID}); err != nil {
		l.pool.Invalidate(sister.hostport())
		return batcherr.MomUnreachable(sister.hostport(), err)
	}
	return ch.Flush()
}

// Obit implements JobObit: the mother MoM reports a finished job.
// RUNNING -> EXITING (TriggerObit, recording exit status) -> FINISHED
// (TriggerFinalize), mirroring internal/job.Service.Delete's signal-then-
// finalize shape but driven by the MoM's report rather than an operator
// delete.
func (l *Launcher) Obit(ctx context.Context, jobID string, exitStatus int) error {
	if err := l.machine.FireWithMutate(ctx, jobID, job.TriggerObit, func(js *job.JobState) {
		js.ExitStatus = exitStatus
	}); err != nil {
		return err
	}
	return l.machine.Fire(ctx, jobID, job.TriggerFinalize)
}
