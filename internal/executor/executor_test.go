package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proctriage/proctriage/internal/decision"
	"github.com/proctriage/proctriage/internal/identity"
)

func TestRunPlanSkipsOnIdentityMismatch(t *testing.T) {
	proc := newFakeProc()
	planned := identity.Tuple{PID: 100, StartTimeTicks: 500, BootID: "boot-a", UID: 1000, EUID: 1000}
	proc.set(100, identity.Tuple{PID: 100, StartTimeTicks: 999, BootID: "boot-a", UID: 1000, EUID: 1000}, 'S')

	ex := New(proc, nil, nil)
	plan := decision.CandidatePlan{
		CandidateID:   "c1",
		PlannedAction: decision.ActionTerminate,
		Identity:      planned,
		Steps:         decision.BuildSteps(decision.ActionTerminate, 1, "", false, ""),
	}

	outcomes, err := ex.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Skipped)
	require.Equal(t, "identity_mismatch", outcomes[0].SkipReason)
}

func TestRunPlanSkipsOnNotRunning(t *testing.T) {
	proc := newFakeProc()
	planned := identity.Tuple{PID: 200, StartTimeTicks: 10, BootID: "boot-a"}

	ex := New(proc, nil, nil)
	plan := decision.CandidatePlan{
		CandidateID:   "c2",
		PlannedAction: decision.ActionPause,
		Identity:      planned,
		Steps:         decision.BuildSteps(decision.ActionPause, 1, "", false, ""),
	}

	outcomes, err := ex.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Skipped)
	require.Equal(t, "not_running", outcomes[0].SkipReason)
}

func TestRunPlanSupervisorStopSucceeds(t *testing.T) {
	proc := newFakeProc()
	planned := identity.Tuple{PID: 300, StartTimeTicks: 10, BootID: "boot-a"}
	proc.set(300, planned, 'S')

	sup := &fakeSupervisor{}
	ex := New(proc, sup, nil)
	plan := decision.CandidatePlan{
		CandidateID:   "c3",
		PlannedAction: decision.ActionSupervisorStop,
		Identity:      planned,
		Steps:         decision.BuildSteps(decision.ActionSupervisorStop, 1, "my.service", false, ""),
	}

	outcomes, err := ex.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Completed)
	require.Equal(t, []string{"my.service"}, sup.stopped)
}

func TestPollUntilAbsentDetectsExit(t *testing.T) {
	proc := newFakeProc()
	planned := identity.Tuple{PID: 400, StartTimeTicks: 10, BootID: "boot-a"}
	proc.set(400, planned, 'S')

	ex := New(proc, nil, nil)
	ex.verifyPoll = 5 * time.Millisecond

	go func() {
		time.Sleep(15 * time.Millisecond)
		proc.remove(400)
	}()

	gone := ex.pollUntilAbsent(context.Background(), 400, 200*time.Millisecond)
	require.True(t, gone)
}

func TestRunPlanCgroupThrottleWritesQuota(t *testing.T) {
	// Target this test's own pid so the renice step that follows, if
	// dispatched, touches only the test process rather than an
	// arbitrary real pid on the host.
	pid := os.Getpid()
	proc := newFakeProc()
	planned := identity.Tuple{PID: pid, StartTimeTicks: 10, BootID: "boot-a"}
	proc.set(pid, planned, 'S')

	root := t.TempDir()
	cgroupPath := "/user.slice/session-7.scope"
	require.NoError(t, os.MkdirAll(filepath.Join(root, cgroupPath), 0o755))

	ex := New(proc, nil, nil)
	ex.cgroupRoot = root
	plan := decision.CandidatePlan{
		CandidateID:   "c5",
		PlannedAction: decision.ActionThrottle,
		Identity:      planned,
		Steps:         decision.BuildSteps(decision.ActionThrottle, 1, "", false, cgroupPath),
	}

	outcomes, err := ex.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.True(t, outcomes[0].Completed)
	require.Empty(t, outcomes[0].DispatchError)

	got, err := os.ReadFile(filepath.Join(root, cgroupPath, "cpu.max"))
	require.NoError(t, err)
	require.Equal(t, "10000 100000", string(got))
	require.Equal(t, decision.StepRenice, outcomes[1].Step.Kind)
}

func TestRunPlanCgroupThrottleFallsBackOnMissingPath(t *testing.T) {
	pid := os.Getpid()
	proc := newFakeProc()
	planned := identity.Tuple{PID: pid, StartTimeTicks: 10, BootID: "boot-a"}
	proc.set(pid, planned, 'S')

	ex := New(proc, nil, nil)
	ex.cgroupRoot = t.TempDir()
	plan := decision.CandidatePlan{
		CandidateID:   "c6",
		PlannedAction: decision.ActionThrottle,
		Identity:      planned,
		Steps:         decision.BuildSteps(decision.ActionThrottle, 1, "", false, ""),
	}

	outcomes, err := ex.RunPlan(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.False(t, outcomes[0].Completed)
	require.NotEmpty(t, outcomes[0].DispatchError)
}
