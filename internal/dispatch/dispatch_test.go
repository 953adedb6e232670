// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pbsgo/batchcore/internal/conn"
	"github.com/pbsgo/batchcore/pkg/auth"
	"github.com/pbsgo/batchcore/pkg/logging"
)

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string)                         {}
func (noopMetrics) RecordResponse(string, time.Duration)         {}
func (noopMetrics) RecordError(string, error)                    {}

func testDeps() HandlerDeps {
	return HandlerDeps{Logger: logging.NoOpLogger{}, Metrics: noopMetrics{}}
}

func testConnection(t *testing.T) *conn.Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	return conn.NewConnection(1, server, conn.OriginUnknown)
}

type fakeJobService struct {
	deletedIDs []string
	failID     string
}

func (f *fakeJobService) Queue(ctx context.Context, jobID, queue string, entries []AttrEntry) error {
	return nil
}

func (f *fakeJobService) Delete(ctx context.Context, jobID string) error {
	if jobID == f.failID {
		return context.DeadlineExceeded
	}
	f.deletedIDs = append(f.deletedIDs, jobID)
	return nil
}

func (f *fakeJobService) Hold(ctx context.Context, jobID, holdType string) error    { return nil }
func (f *fakeJobService) Release(ctx context.Context, jobID, holdType string) error { return nil }
func (f *fakeJobService) JobScript(ctx context.Context, jobID, script string) error { return nil }
func (f *fakeJobService) RdyToCommit(ctx context.Context, jobID string) error       { return nil }
func (f *fakeJobService) Commit(ctx context.Context, jobID string) error            { return nil }
func (f *fakeJobService) MoveJob(ctx context.Context, jobID, destination string) error {
	return nil
}
func (f *fakeJobService) ModifyJob(ctx context.Context, jobID string, entries []AttrEntry) error {
	return nil
}
func (f *fakeJobService) SignalJob(ctx context.Context, jobID, signal string) error { return nil }
func (f *fakeJobService) Rerun(ctx context.Context, jobID string) error            { return nil }

// fakeLauncher stands in for internal/exec.Launcher's dispatch-facing seam.
type fakeLauncher struct {
	results []ExecResult
	err     error
}

func (f *fakeLauncher) Launch(ctx context.Context, jobID string, primary ExecHost, sisters []ExecHost, execVnode string) ([]ExecResult, error) {
	return f.results, f.err
}

type fakeResvEngine struct {
	submitted []string
	deleted   []string
}

func (f *fakeResvEngine) Submit(ctx context.Context, id, queueName string) error {
	f.submitted = append(f.submitted, id)
	return nil
}
func (f *fakeResvEngine) Confirm(ctx context.Context, id, execVnode string, startTime, endTime int64) error {
	return nil
}
func (f *fakeResvEngine) Begin(ctx context.Context, id string) error    { return nil }
func (f *fakeResvEngine) OccurEnd(ctx context.Context, id string) error { return nil }
func (f *fakeResvEngine) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeObitReporter struct {
	jobID      string
	exitStatus int
}

func (f *fakeObitReporter) Obit(ctx context.Context, jobID string, exitStatus int) error {
	f.jobID, f.exitStatus = jobID, exitStatus
	return nil
}

func TestDispatch_UnknownRequestTypeRejected(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), testConnection(t), Request{Type: RequestType("Bogus")})
	require.Error(t, err)
}

func TestDispatch_QueueJob(t *testing.T) {
	r := NewRegistry()
	RegisterJobHandlers(r, &fakeJobService{}, &fakeLauncher{}, testDeps())

	reply, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: QueueJob,
		Body: QueueJobBody{JobID: "1.host", Queue: "workq"},
	})
	require.NoError(t, err)
	require.Equal(t, ReplyJobID, reply.Tag)
	require.Equal(t, "1.host", reply.Payload)
}

func TestDispatch_DeleteJobList_AggregatesPerJobFailures(t *testing.T) {
	r := NewRegistry()
	svc := &fakeJobService{failID: "2.host"}
	RegisterJobHandlers(r, svc, &fakeLauncher{}, testDeps())

	reply, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: DeleteJobList,
		Body: DeleteJobListBody{JobIDs: []string{"1.host", "2.host", "3.host"}},
	})
	require.Error(t, err, "one failing job ID must surface as an aggregated error")
	require.Equal(t, ReplyDeleteList, reply.Tag)
	require.ElementsMatch(t, []string{"1.host", "3.host"}, reply.Payload)
	require.ElementsMatch(t, []string{"1.host", "3.host"}, svc.deletedIDs)
}

func TestDispatch_AuthenticateGatesFurtherRequests(t *testing.T) {
	r := NewRegistry()
	hs := conn.NewHandshake(auth.NewRegistry(auth.NewResvportMethod()))
	RegisterConnectHandlers(r, hs, testDeps())
	RegisterJobHandlers(r, &fakeJobService{}, &fakeLauncher{}, testDeps())

	c := testConnection(t)
	c.PeerPort = 1023

	_, err := r.Dispatch(context.Background(), c, Request{
		Type: Authenticate,
		Body: conn.AuthenticateRequest{Method: "resvport", ClientPort: 1023},
	})
	require.NoError(t, err)
	require.True(t, c.IsAuthenticated())
}

func TestRegisterStubHandlers_CoversEveryRequestType(t *testing.T) {
	r := NewRegistry()
	hs := conn.NewHandshake(auth.NewRegistry())
	RegisterConnectHandlers(r, hs, testDeps())
	RegisterJobHandlers(r, &fakeJobService{}, &fakeLauncher{}, testDeps())
	RegisterStatusHandlers(r, nil, testDeps())
	RegisterResvHandlers(r, &fakeResvEngine{}, testDeps())
	RegisterExecHandlers(r, &fakeObitReporter{}, testDeps())
	RegisterStubHandlers(r, testDeps())

	for rt := range allRequestTypes {
		_, ok := r.handlers[rt]
		require.True(t, ok, "missing handler registration for %s", rt)
	}
}

func TestDispatch_RunJob_InvokesLauncher(t *testing.T) {
	r := NewRegistry()
	launcher := &fakeLauncher{results: []ExecResult{{Peer: ExecHost{Addr: "node2"}}}}
	RegisterJobHandlers(r, &fakeJobService{}, launcher, testDeps())

	reply, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: RunJob,
		Body: RunJobBody{JobID: "1.host", ExecVnode: "node1/0", Primary: ExecHost{Addr: "node1"}},
	})
	require.NoError(t, err)
	require.Equal(t, ReplyNullCodeOnly, reply.Tag)
	require.Equal(t, launcher.results, reply.Payload)
}

func TestDispatch_RunJob_LauncherFailurePropagates(t *testing.T) {
	r := NewRegistry()
	launcher := &fakeLauncher{err: context.DeadlineExceeded}
	RegisterJobHandlers(r, &fakeJobService{}, launcher, testDeps())

	_, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: RunJob,
		Body: RunJobBody{JobID: "1.host"},
	})
	require.Error(t, err)
}

func TestDispatch_Commit(t *testing.T) {
	r := NewRegistry()
	RegisterJobHandlers(r, &fakeJobService{}, &fakeLauncher{}, testDeps())

	reply, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: Commit,
		Body: JobIDBody{JobID: "1.host"},
	})
	require.NoError(t, err)
	require.Equal(t, ReplyJobID, reply.Tag)
	require.Equal(t, "1.host", reply.Payload)
}

func TestDispatch_Rerun(t *testing.T) {
	r := NewRegistry()
	RegisterJobHandlers(r, &fakeJobService{}, &fakeLauncher{}, testDeps())

	_, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: Rerun,
		Body: JobIDBody{JobID: "1.host"},
	})
	require.NoError(t, err)
}

func TestDispatch_SubmitResv(t *testing.T) {
	r := NewRegistry()
	eng := &fakeResvEngine{}
	RegisterResvHandlers(r, eng, testDeps())

	reply, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: SubmitResv,
		Body: SubmitResvBody{ResvID: "R1.host", Queue: "R1"},
	})
	require.NoError(t, err)
	require.Equal(t, "R1.host", reply.Payload)
	require.Equal(t, []string{"R1.host"}, eng.submitted)
}

func TestDispatch_DeleteResv(t *testing.T) {
	r := NewRegistry()
	eng := &fakeResvEngine{}
	RegisterResvHandlers(r, eng, testDeps())

	_, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: DeleteResv,
		Body: ResvIDBody{ResvID: "R1.host"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"R1.host"}, eng.deleted)
}

func TestDispatch_JobObit(t *testing.T) {
	r := NewRegistry()
	obit := &fakeObitReporter{}
	RegisterExecHandlers(r, obit, testDeps())

	_, err := r.Dispatch(context.Background(), testConnection(t), Request{
		Type: JobObit,
		Body: JobObitBody{JobID: "1.host", ExitStatus: 0},
	})
	require.NoError(t, err)
	require.Equal(t, "1.host", obit.jobID)
}
