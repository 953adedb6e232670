// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pbsgo/batchcore/pkg/streaming"
)

func TestMachine_HoldRelease(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "1.host", Queue: "workq", State: StateQueued})

	require.NoError(t, m.Fire(context.Background(), "1.host", TriggerHold))
	require.Equal(t, StateHeld, m.Load("1.host").State)

	require.NoError(t, m.Fire(context.Background(), "1.host", TriggerRelease))
	require.Equal(t, StateQueued, m.Load("1.host").State)
}

func TestMachine_QueueRunObitFinalize(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "2.host", Queue: "workq", State: StateQueued})

	require.NoError(t, m.FireWithMutate(context.Background(), "2.host", TriggerRun, func(js *JobState) {
		js.ExecVnode = "node1"
	}))
	st := m.Load("2.host")
	require.Equal(t, StateRunning, st.State)
	require.Equal(t, "node1", st.ExecVnode)

	require.NoError(t, m.Fire(context.Background(), "2.host", TriggerObit))
	require.Equal(t, StateExiting, m.Load("2.host").State)

	require.NoError(t, m.Fire(context.Background(), "2.host", TriggerFinalize))
	require.Equal(t, StateFinished, m.Load("2.host").State)
}

func TestMachine_FinalizeWithNegativeExitStatusExpires(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "3.host", Queue: "workq", State: StateExiting, ExitStatus: -1})

	require.NoError(t, m.Fire(context.Background(), "3.host", TriggerFinalize))
	require.Equal(t, StateExpired, m.Load("3.host").State)
}

func TestMachine_SuspendResume(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "4.host", Queue: "workq", State: StateRunning})

	require.NoError(t, m.Fire(context.Background(), "4.host", TriggerStop))
	st := m.Load("4.host")
	require.Equal(t, StateRunning, st.State)
	require.Equal(t, SubstateSuspended, st.Substate)

	require.NoError(t, m.Fire(context.Background(), "4.host", TriggerCont))
	require.Equal(t, SubstateNone, m.Load("4.host").Substate)
}

func TestMachine_Rerun_ResetsExitStatusAndIncrementsCounter(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "5.host", Queue: "workq", State: StateRunning, ExitStatus: 42})

	require.NoError(t, m.Fire(context.Background(), "5.host", TriggerRerun))
	st := m.Load("5.host")
	require.Equal(t, StateQueued, st.State)
	require.Equal(t, 0, st.ExitStatus)
	require.Equal(t, 1, st.RerunCount)
}

func TestMachine_Rerun_FailsAfterMaxCount(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "6.host", Queue: "workq", State: StateRunning, RerunCount: maxRerunCount})

	err := m.Fire(context.Background(), "6.host", TriggerRerun)
	require.Error(t, err)
	require.Equal(t, StateRunning, m.Load("6.host").State, "a failed guard must not move the state")
}

func TestMachine_MoveGuard_RemoteQueueMoves(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "7.host", Queue: "workq@otherserver", State: StateQueued})

	require.NoError(t, m.Fire(context.Background(), "7.host", TriggerMove))
	require.Equal(t, StateMoved, m.Load("7.host").State)
}

func TestMachine_MoveGuard_LocalQueueStaysQueued(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "8.host", Queue: "otherq", State: StateQueued})

	require.NoError(t, m.Fire(context.Background(), "8.host", TriggerMove))
	require.Equal(t, StateQueued, m.Load("8.host").State)
}

func TestMachine_InvalidTriggerRejected(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "9.host", Queue: "workq", State: StateHeld})

	err := m.Fire(context.Background(), "9.host", TriggerRun)
	require.Error(t, err)
}

func TestMachine_WatchJobs_PublishesCommittedTransitions(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "10.host", Queue: "workq", State: StateQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := m.WatchJobs(ctx, streaming.JobFilter{})
	require.NoError(t, err)

	require.NoError(t, m.Fire(context.Background(), "10.host", TriggerHold))

	select {
	case ev := <-events:
		require.Equal(t, "10.host", ev.JobID)
		require.Equal(t, string(StateHeld), ev.State)
	case <-time.After(time.Second):
		t.Fatal("expected a JobEvent after firing a transition")
	}
}

func TestMachine_WatchJobs_FiltersByJobID(t *testing.T) {
	m := NewMachine()
	m.Seed(JobState{ID: "11.host", Queue: "workq", State: StateQueued})
	m.Seed(JobState{ID: "12.host", Queue: "workq", State: StateQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := m.WatchJobs(ctx, streaming.JobFilter{JobIDs: []string{"11.host"}})
	require.NoError(t, err)

	require.NoError(t, m.Fire(context.Background(), "12.host", TriggerHold))
	require.NoError(t, m.Fire(context.Background(), "11.host", TriggerHold))

	select {
	case ev := <-events:
		require.Equal(t, "11.host", ev.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected the filtered job's event")
	}
}
