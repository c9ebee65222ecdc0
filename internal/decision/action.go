// Package decision selects one action per candidate under expected loss,
// subject to safety gates and a false-discovery-rate budget on destructive
// actions, and emits a staged execution plan (spec §4.4).
package decision

// Action is one of the closed action vocabulary entries. Order matters:
// it is the tie-break order when expected loss is not strictly separated.
type Action string

const (
	ActionKeep            Action = "keep"
	ActionPause           Action = "pause"
	ActionThrottle        Action = "throttle"
	ActionRenice          Action = "renice"
	ActionSupervisorStop  Action = "supervisor-stop"
	ActionTerminate       Action = "terminate"
	ActionSkip            Action = "skip"
)

// Actions is the tie-break order: keep < pause < throttle < renice <
// supervisor-stop < terminate.
var Actions = []Action{
	ActionKeep, ActionPause, ActionThrottle, ActionRenice, ActionSupervisorStop, ActionTerminate,
}

// Destructive reports whether an action can cause irrecoverable process
// loss and is therefore subject to the data-loss gate, confidence floor,
// conformal-set gate, and FDR control. Pause and renice are deliberately
// excluded: the data-loss gate leaves them admissible (spec §4.4).
func (a Action) Destructive() bool {
	switch a {
	case ActionThrottle, ActionSupervisorStop, ActionTerminate:
		return true
	default:
		return false
	}
}
