package decision

import "github.com/proctriage/proctriage/internal/identity"

// StepKind is one step of a staged action plan.
type StepKind string

const (
	StepSignal         StepKind = "signal"
	StepVerifyState    StepKind = "verify_state"
	StepCgroupThrottle StepKind = "cgroup_throttle"
	StepRenice         StepKind = "renice"
	StepSupervisorStop StepKind = "supervisor_stop"
	StepWait           StepKind = "wait"
)

// Step is one unit of executor work. Steps run sequentially in plan
// order (spec §4.4/§4.5 "Ordering").
type Step struct {
	Kind   StepKind `json:"kind"`
	Signal string   `json:"signal,omitempty"`
	// WaitFor is the process state the verify step polls for (e.g. "T").
	WaitFor string `json:"wait_for,omitempty"`
	// GraceSeconds bounds a wait step.
	GraceSeconds int `json:"grace_seconds,omitempty"`
	// EscalateTo names the next step to run if this one times out while
	// identity still matches (e.g. terminate's SIGTERM -> SIGKILL).
	EscalateSignal string `json:"escalate_signal,omitempty"`
	SupervisorUnit string `json:"supervisor_unit,omitempty"`
	TargetGroup    bool   `json:"target_group,omitempty"`
	// CgroupPath is the cgroup v2 unified-hierarchy path (spec §3
	// "cgroup_path") a cgroup_throttle step writes cpu.max into.
	CgroupPath string `json:"cgroup_path,omitempty"`
}

// CandidatePlan is the staged plan for one candidate, plus the identity
// snapshot the executor revalidates against before each step (spec §4.5).
type CandidatePlan struct {
	CandidateID    string         `json:"candidate_id"`
	PlannedAction  Action         `json:"planned_action"`
	Identity       identity.Tuple `json:"identity"`
	Steps          []Step         `json:"steps"`
	GateLog        []GateLogEntry `json:"gate_log"`
	SkipReason     string         `json:"skip_reason,omitempty"`
}

// BuildSteps expands a selected action into its staged execution steps
// (spec §4.4 "Staged plan"). supervisorUnit is non-empty when a supervisor
// is attributed, which redirects terminate/throttle to a supervisor call.
func BuildSteps(a Action, graceSeconds int, supervisorUnit string, leadsGroup bool, cgroupPath string) []Step {
	switch a {
	case ActionKeep, ActionSkip:
		return nil

	case ActionPause:
		return []Step{
			{Kind: StepSignal, Signal: "SIGSTOP"},
			{Kind: StepVerifyState, WaitFor: "T", GraceSeconds: graceSeconds},
		}

	case ActionThrottle:
		if supervisorUnit != "" {
			return []Step{{Kind: StepSupervisorStop, SupervisorUnit: supervisorUnit}}
		}
		return []Step{
			{Kind: StepCgroupThrottle, CgroupPath: cgroupPath},
			{Kind: StepRenice}, // fallback if cgroup write is unavailable
		}

	case ActionRenice:
		return []Step{{Kind: StepRenice}}

	case ActionSupervisorStop:
		return []Step{{Kind: StepSupervisorStop, SupervisorUnit: supervisorUnit}}

	case ActionTerminate:
		if supervisorUnit != "" {
			return []Step{{Kind: StepSupervisorStop, SupervisorUnit: supervisorUnit}}
		}
		return []Step{
			{
				Kind:           StepSignal,
				Signal:         "SIGTERM",
				TargetGroup:    leadsGroup,
				EscalateSignal: "SIGKILL",
				GraceSeconds:   graceSeconds,
			},
		}

	default:
		return nil
	}
}
