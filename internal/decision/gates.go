package decision

import (
	"strings"

	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/inference"
)

// GateInput is everything a candidate's gate evaluation needs beyond its
// posterior (spec §4.4 "Gates").
type GateInput struct {
	CandidateID string
	Comm        string
	Cwd         string

	// ProtectedMatch is true if the candidate matches a configured
	// protected pattern, protected uid, or session-safety pattern.
	ProtectedMatch bool
	ProtectedKind  string // "pattern" | "uid" | "session_safety"

	// CrossUID is true when the target's uid differs from the caller's.
	CrossUID bool

	// WriteFDOutsideSafePaths is true when the candidate holds an open
	// write file descriptor to a path outside the configured exempt
	// prefixes (non-tmp, non-log).
	WriteFDOutsideSafePaths bool

	MAPClass         inference.Class
	MAPPosterior     float64
	ConformalSetSize int
}

// GateDecision is the outcome of evaluating all gates for one candidate:
// either every destructive action remains admissible, non-destructive
// actions only, or a full skip with a reason (spec §4.4).
type GateDecision struct {
	AdmissibleActions []Action
	SkipReason        string // empty unless every destructive action was gated out by a hard stop
	GateLog           []GateLogEntry
}

type GateLogEntry struct {
	Gate   string
	Result string // "pass" | "blocked"
	Reason string
}

// EvaluateGates runs the five ordered safety gates against one candidate
// (spec §4.4). The first hard-stop gate (protected match) sets
// recommended_action = skip outright; later gates narrow the admissible
// set to non-destructive actions instead of stopping the whole
// evaluation, since pause/renice remain meaningful mitigations.
func EvaluateGates(in GateInput, policy *config.PolicyConfig) GateDecision {
	var log []GateLogEntry

	// Gate 1: protected pattern / uid / session-safety — never overridden.
	if in.ProtectedMatch {
		log = append(log, GateLogEntry{Gate: "protected", Result: "blocked", Reason: "protected_" + in.ProtectedKind})
		return GateDecision{
			AdmissibleActions: []Action{ActionSkip},
			SkipReason:        "protected_" + in.ProtectedKind,
			GateLog:           log,
		}
	}
	log = append(log, GateLogEntry{Gate: "protected", Result: "pass"})

	admissible := []Action{ActionKeep, ActionPause, ActionThrottle, ActionRenice, ActionSupervisorStop, ActionTerminate}

	// Gate 2: privilege.
	if in.CrossUID && !policy.Privilege.AllowCrossUID {
		admissible = dropDestructive(admissible)
		log = append(log, GateLogEntry{Gate: "privilege", Result: "blocked", Reason: "privilege_blocked"})
	} else {
		log = append(log, GateLogEntry{Gate: "privilege", Result: "pass"})
	}

	// Gate 3: data-loss. Pause/renice remain admissible per spec §4.4.
	if in.WriteFDOutsideSafePaths {
		admissible = dropDestructiveExcept(admissible, ActionRenice)
		log = append(log, GateLogEntry{Gate: "data_loss", Result: "blocked", Reason: "data_loss_risk"})
	} else {
		log = append(log, GateLogEntry{Gate: "data_loss", Result: "pass"})
	}

	// Gate 4: confidence floor.
	if in.MAPPosterior < policy.ConfidenceFloor {
		admissible = dropDestructive(admissible)
		log = append(log, GateLogEntry{Gate: "confidence_floor", Result: "blocked", Reason: "below_confidence_floor"})
	} else {
		log = append(log, GateLogEntry{Gate: "confidence_floor", Result: "pass"})
	}

	// Gate 5: conformal set.
	if in.ConformalSetSize != 1 {
		admissible = dropDestructive(admissible)
		log = append(log, GateLogEntry{Gate: "conformal_set", Result: "blocked", Reason: "ambiguous_conformal_set"})
	} else {
		log = append(log, GateLogEntry{Gate: "conformal_set", Result: "pass"})
	}

	skipReason := ""
	if !anyDestructive(admissible) {
		skipReason = lastBlockedReason(log)
	}

	return GateDecision{AdmissibleActions: admissible, SkipReason: skipReason, GateLog: log}
}

func dropDestructive(actions []Action) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if !a.Destructive() {
			out = append(out, a)
		}
	}
	return out
}

func dropDestructiveExcept(actions []Action, keep Action) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if !a.Destructive() || a == keep {
			out = append(out, a)
		}
	}
	return out
}

func anyDestructive(actions []Action) bool {
	for _, a := range actions {
		if a.Destructive() {
			return true
		}
	}
	return false
}

func lastBlockedReason(log []GateLogEntry) string {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Result == "blocked" {
			return log[i].Reason
		}
	}
	return ""
}

// matchesProtected reports whether comm or cwd matches any configured
// protected/session-safety pattern. Patterns are plain substrings, matching
// the teacher's string-match style rather than a regex engine for this
// narrow, security-sensitive check.
func matchesProtected(comm string, patterns []string) (bool, string) {
	for _, p := range patterns {
		if p != "" && strings.Contains(comm, p) {
			return true, p
		}
	}
	return false, ""
}
