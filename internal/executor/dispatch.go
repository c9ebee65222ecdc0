package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/proctriage/proctriage/internal/decision"
	"github.com/proctriage/proctriage/internal/identity"
)

// cgroupV2Root is the standard unified-hierarchy mount point. Overridable
// in tests via Executor.cgroupRoot.
const cgroupV2Root = "/sys/fs/cgroup"

// throttleQuotaMicros/throttlePeriodMicros bound a throttled process to
// 10% of one CPU via cgroup v2's cpu.max (spec §4.4 "Throttle (cgroup
// cpu.max write)").
const (
	throttleQuotaMicros  = 10_000
	throttlePeriodMicros = 100_000
)

// StepOutcome is the per-step result appended to the session's execution
// log (spec §4.5 step 4 "Record").
type StepOutcome struct {
	CandidateID      string         `json:"candidate_id"`
	Step             decision.Step  `json:"step"`
	Skipped          bool           `json:"skipped"`
	SkipReason       string         `json:"skip_reason,omitempty"`
	IdentityObserved *identity.Tuple `json:"identity_observed,omitempty"`
	DispatchError    string         `json:"dispatch_error,omitempty"`
	Escalated        bool           `json:"escalated"`
	VerifyLatency    time.Duration  `json:"verify_latency"`
	Completed        bool           `json:"completed"`
}

// EventRecorder appends one step outcome to the session's durable event
// log (implemented by internal/session).
type EventRecorder interface {
	RecordStep(outcome StepOutcome) error
}

// Executor runs a single CandidatePlan's steps sequentially, strictly
// single-threaded (spec §5 "The executor is strictly single-threaded").
type Executor struct {
	reader     ProcessReader
	supervisor SupervisorController
	recorder   EventRecorder
	verifyPoll time.Duration
	cgroupRoot string
}

func New(reader ProcessReader, supervisor SupervisorController, recorder EventRecorder) *Executor {
	return &Executor{reader: reader, supervisor: supervisor, recorder: recorder, verifyPoll: 100 * time.Millisecond, cgroupRoot: cgroupV2Root}
}

// RunPlan executes every step of plan in order, revalidating identity
// before each one (spec §4.5). It stops at the first step that is
// skipped for not_running, since later steps target the same process.
func (ex *Executor) RunPlan(ctx context.Context, plan decision.CandidatePlan) ([]StepOutcome, error) {
	outcomes := make([]StepOutcome, 0, len(plan.Steps))

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		revalidation := Revalidate(ex.reader, plan.Identity)
		var outcome StepOutcome
		outcome.CandidateID = plan.CandidateID
		outcome.Step = step

		switch {
		case revalidation.NotRunning:
			outcome.Skipped = true
			outcome.SkipReason = "not_running"
			outcome.Completed = true
			if err := ex.record(outcome); err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, outcome)
			return outcomes, nil

		case len(revalidation.Mismatches) > 0:
			outcome.Skipped = true
			outcome.SkipReason = "identity_mismatch"
			observed := revalidation.Observed
			outcome.IdentityObserved = &observed
			if err := ex.record(outcome); err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, outcome)
			return outcomes, nil
		}

		outcome = ex.dispatchAndVerify(ctx, plan, step)
		if err := ex.record(outcome); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

func (ex *Executor) record(outcome StepOutcome) error {
	if ex.recorder == nil {
		return nil
	}
	return ex.recorder.RecordStep(outcome)
}

// dispatchAndVerify sends the step's signal or supervisor call, then
// verifies the outcome per spec §4.5 steps 2-3.
func (ex *Executor) dispatchAndVerify(ctx context.Context, plan decision.CandidatePlan, step decision.Step) StepOutcome {
	outcome := StepOutcome{CandidateID: plan.CandidateID, Step: step}
	start := time.Now()

	switch step.Kind {
	case decision.StepSupervisorStop:
		if ex.supervisor == nil {
			outcome.DispatchError = "no_supervisor_controller"
			return outcome
		}
		if err := ex.supervisor.Stop(ctx, step.SupervisorUnit); err != nil {
			outcome.DispatchError = err.Error()
			return outcome
		}
		outcome.Completed = true
		outcome.VerifyLatency = time.Since(start)
		return outcome

	case decision.StepSignal:
		target := plan.Identity.PID
		if step.TargetGroup {
			target = -target
		}
		sig, err := signalByName(step.Signal)
		if err != nil {
			outcome.DispatchError = err.Error()
			return outcome
		}
		if err := unix.Kill(target, sig); err != nil {
			outcome.DispatchError = mapKillError(err)
			return outcome
		}

		deadline := time.Duration(step.GraceSeconds) * time.Second
		if deadline <= 0 {
			deadline = 5 * time.Second
		}
		gone := ex.pollUntilAbsent(ctx, plan.Identity.PID, deadline)
		outcome.VerifyLatency = time.Since(start)
		if gone {
			outcome.Completed = true
			return outcome
		}

		if step.EscalateSignal == "" {
			return outcome
		}
		revalidation := Revalidate(ex.reader, plan.Identity)
		if !revalidation.OK {
			outcome.Skipped = true
			outcome.SkipReason = "identity_mismatch_before_escalation"
			return outcome
		}
		escSig, err := signalByName(step.EscalateSignal)
		if err != nil {
			outcome.DispatchError = err.Error()
			return outcome
		}
		if err := unix.Kill(target, escSig); err != nil {
			outcome.DispatchError = mapKillError(err)
			return outcome
		}
		outcome.Escalated = true
		outcome.Completed = ex.pollUntilAbsent(ctx, plan.Identity.PID, deadline)
		outcome.VerifyLatency = time.Since(start)
		return outcome

	case decision.StepVerifyState:
		deadline := time.Duration(step.GraceSeconds) * time.Second
		if deadline <= 0 {
			deadline = 5 * time.Second
		}
		reached := ex.pollUntilState(ctx, plan.Identity.PID, step.WaitFor[0], deadline)
		outcome.Completed = reached
		outcome.VerifyLatency = time.Since(start)
		return outcome

	case decision.StepCgroupThrottle:
		if err := ex.writeCgroupQuota(step.CgroupPath); err != nil {
			outcome.DispatchError = "cgroup_throttle_unavailable: " + err.Error()
			return outcome
		}
		outcome.Completed = true
		outcome.VerifyLatency = time.Since(start)
		return outcome

	case decision.StepRenice:
		if err := unix.Setpriority(unix.PRIO_PROCESS, plan.Identity.PID, 19); err != nil {
			outcome.DispatchError = mapKillError(err)
			return outcome
		}
		outcome.Completed = true
		outcome.VerifyLatency = time.Since(start)
		return outcome

	default:
		outcome.DispatchError = fmt.Sprintf("unknown step kind %q", step.Kind)
		return outcome
	}
}

// writeCgroupQuota writes a throttled cpu.max into the candidate's cgroup
// v2 unified-hierarchy path (spec §4.4 "Throttle (cgroup cpu.max write)
// when available; fall back to renice"). Empty path or a write error
// (missing cgroup v2, permission denied, path no longer exists) leaves
// the renice fallback step to take over.
func (ex *Executor) writeCgroupQuota(cgroupPath string) error {
	if cgroupPath == "" {
		return fmt.Errorf("no cgroup path recorded for candidate")
	}
	root := ex.cgroupRoot
	if root == "" {
		root = cgroupV2Root
	}
	cpuMax := filepath.Join(root, cgroupPath, "cpu.max")
	quota := fmt.Sprintf("%d %d", throttleQuotaMicros, throttlePeriodMicros)
	return os.WriteFile(cpuMax, []byte(quota), 0o644)
}

func (ex *Executor) pollUntilAbsent(ctx context.Context, pid int, deadline time.Duration) bool {
	absent := func() bool {
		_, present := ex.reader.ReadIdentity(pid)
		return !present
	}
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if absent() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(ex.verifyPoll):
		}
	}
	return absent()
}

func (ex *Executor) pollUntilState(ctx context.Context, pid int, want byte, deadline time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if ex.reader.State(pid) == want {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(ex.verifyPoll):
		}
	}
	return ex.reader.State(pid) == want
}

func signalByName(name string) (unix.Signal, error) {
	switch name {
	case "SIGSTOP":
		return unix.SIGSTOP, nil
	case "SIGTERM":
		return unix.SIGTERM, nil
	case "SIGKILL":
		return unix.SIGKILL, nil
	case "SIGCONT":
		return unix.SIGCONT, nil
	default:
		return 0, fmt.Errorf("executor: unknown signal %q", name)
	}
}

// mapKillError names the kernel dispatch errors the spec calls out
// explicitly (spec §4.5 step 2).
func mapKillError(err error) string {
	switch err {
	case unix.EPERM:
		return "eperm"
	case unix.ESRCH:
		return "esrch"
	default:
		return err.Error()
	}
}
