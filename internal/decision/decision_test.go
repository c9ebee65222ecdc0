package decision

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/inference"
)

func testPolicy() *config.PolicyConfig {
	return &config.PolicyConfig{
		LossMatrix: map[string]map[string]float64{
			"useful":        {"keep": 0, "pause": 1, "throttle": 2, "renice": 1, "supervisor-stop": 5, "terminate": 20},
			"useful_bad":    {"keep": 2, "pause": 1, "throttle": 1, "renice": 0.5, "supervisor-stop": 3, "terminate": 8},
			"abandoned":     {"keep": 10, "pause": 3, "throttle": 2, "renice": 2, "supervisor-stop": 1, "terminate": 0.5},
			"zombie":        {"keep": 5, "pause": 3, "throttle": 3, "renice": 3, "supervisor-stop": 1, "terminate": 0.1},
		},
		ConfidenceFloor:       0.7,
		LossGapTolerance:      0.05,
		TerminateGraceSeconds: 5,
		FDR:                   config.FDRConfig{TargetAlpha: 0.05, WealthEarnRate: 0.5},
	}
}

func TestSelectActionPrefersLowestExpectedLoss(t *testing.T) {
	policy := testPolicy()
	posterior := map[inference.Class]float64{
		inference.ClassUseful:    0.05,
		inference.ClassUsefulBad: 0.05,
		inference.ClassAbandoned: 0.85,
		inference.ClassZombie:    0.05,
	}
	action, losses := SelectAction(posterior, policy, Actions)
	require.Equal(t, ActionTerminate, action)
	require.Less(t, losses[ActionTerminate], losses[ActionKeep])
}

func TestEvaluateGatesProtectedAlwaysSkips(t *testing.T) {
	policy := testPolicy()
	in := GateInput{ProtectedMatch: true, ProtectedKind: "pattern", MAPPosterior: 0.99, ConformalSetSize: 1}
	decision := EvaluateGates(in, policy)
	require.Equal(t, "protected_pattern", decision.SkipReason)
	require.Equal(t, []Action{ActionSkip}, decision.AdmissibleActions)
}

func TestEvaluateGatesDataLossKeepsPauseAndRenice(t *testing.T) {
	policy := testPolicy()
	in := GateInput{WriteFDOutsideSafePaths: true, MAPPosterior: 0.9, ConformalSetSize: 1}
	decision := EvaluateGates(in, policy)
	require.Contains(t, decision.AdmissibleActions, ActionPause)
	require.Contains(t, decision.AdmissibleActions, ActionRenice)
	require.NotContains(t, decision.AdmissibleActions, ActionTerminate)
}

func TestEvaluateGatesConfidenceFloorBlocksDestructive(t *testing.T) {
	policy := testPolicy()
	in := GateInput{MAPPosterior: 0.5, ConformalSetSize: 1}
	decision := EvaluateGates(in, policy)
	require.False(t, anyDestructive(decision.AdmissibleActions))
}

func TestApplyBHGateAdmitsTopPrefix(t *testing.T) {
	candidates := []EValueCandidate{
		{CandidateID: "a", EValue: 2.0},
		{CandidateID: "b", EValue: 1.8},
		{CandidateID: "c", EValue: 1.4},
		{CandidateID: "d", EValue: 1.1},
		{CandidateID: "e", EValue: 0.9},
		{CandidateID: "f", EValue: 0.7},
		{CandidateID: "g", EValue: 0.5},
		{CandidateID: "h", EValue: 0.4},
		{CandidateID: "i", EValue: 0.3},
		{CandidateID: "j", EValue: 0.2},
	}
	result := ApplyBHGate(candidates, 0.05)
	require.Equal(t, 3, result.K)
	require.True(t, result.Admitted["a"])
	require.True(t, result.Admitted["b"])
	require.True(t, result.Admitted["c"])
	require.False(t, result.Admitted["d"])
}

func TestGuardrailStopsAtCapacity(t *testing.T) {
	g := NewGuardrail(2, map[string]int{"agent-shell": 1})
	require.True(t, g.Consume("agent-shell"))
	require.False(t, g.Consume("agent-shell"))
	require.True(t, g.Consume("dev-server"))
	require.False(t, g.Consume("dev-server")) // total cap of 2 exhausted
}
