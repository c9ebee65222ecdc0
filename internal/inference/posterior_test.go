package inference

import (
	"math"
	"testing"

	"github.com/proctriage/proctriage/internal/config"
)

func testPriors() *config.PriorsConfig {
	betaSet := func(au, ub, ab, zo float64) map[string]config.BetaParams {
		return map[string]config.BetaParams{
			"useful":     {Alpha: au, Beta: 10 - au},
			"useful_bad": {Alpha: ub, Beta: 10 - ub},
			"abandoned":  {Alpha: ab, Beta: 10 - ab},
			"zombie":     {Alpha: zo, Beta: 10 - zo},
		}
	}
	return &config.PriorsConfig{
		SchemaVersion: "1",
		CPUOccupancy:  betaSet(8, 5, 1, 1),
		Hazard: map[string]config.GammaParams{
			"useful":     {Shape: 2, Rate: 0.0001},
			"useful_bad": {Shape: 2, Rate: 0.0002},
			"abandoned":  {Shape: 2, Rate: 0.00005},
			"zombie":     {Shape: 2, Rate: 0.0003},
		},
		OrphanBernoulli:  betaSet(1, 3, 8, 5),
		TTYBernoulli:     betaSet(7, 4, 2, 1),
		WriteFDBernoulli: betaSet(3, 6, 1, 1),
		CategoryDirichlet: map[string]config.DirichletParams{
			"useful":     {Concentration: map[string]float64{"test-runner": 1, "other": 5}},
			"useful_bad": {Concentration: map[string]float64{"test-runner": 2, "other": 2}},
			"abandoned":  {Concentration: map[string]float64{"test-runner": 5, "other": 1}},
			"zombie":     {Concentration: map[string]float64{"test-runner": 1, "other": 1}},
		},
		ClassPrior: map[string]float64{
			"useful": 0.7, "useful_bad": 0.15, "abandoned": 0.1, "zombie": 0.05,
		},
	}
}

func TestPosteriorNormalization(t *testing.T) {
	engine := NewEngine(testPriors())
	ev := CandidateEvidence{
		CandidateID:       "p1",
		CPUFrac:           0.001,
		CPUFracNEff:       2.5,
		CPUFracProvenance: ProvenanceOK,
		AgeSeconds:        8 * 3600,
		AgeProvenance:     ProvenanceOK,
		StillAlive:        true,
		RuntimeSource:     RuntimeSourceHazard,
		Orphan:            TriTrue,
		OrphanProvenance:  ProvenanceOK,
		TTYAttached:       TriFalse,
		WriteFDPresent:    TriFalse,
		WriteFDProvenance: ProvenanceOK,
		Category:          "test-runner",
	}

	result, err := engine.Classify(ev, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	sum := 0.0
	for _, p := range result.Posterior {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("posterior sums to %v, want 1.0 +/- 1e-9", sum)
	}
}

func TestLedgerDecompositionInvariant(t *testing.T) {
	engine := NewEngine(testPriors())
	ev := CandidateEvidence{
		CandidateID:       "p2",
		CPUFrac:           0.5,
		CPUFracNEff:       3,
		CPUFracProvenance: ProvenanceOK,
		AgeSeconds:        600,
		AgeProvenance:     ProvenanceOK,
		StillAlive:        true,
		RuntimeSource:     RuntimeSourceHazard,
		Orphan:            TriFalse,
		OrphanProvenance:  ProvenanceOK,
		TTYAttached:       TriTrue,
		Category:          "other",
	}

	result, err := engine.Classify(ev, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	mapClass := result.MAPClass
	var altClass Class
	for _, c := range Classes {
		if c != mapClass && (altClass == "" || result.Posterior[c] > result.Posterior[altClass]) {
			altClass = c
		}
	}

	directLogOdds := math.Log(result.Posterior[mapClass]) - math.Log(result.Posterior[altClass])
	reconstructed := result.Ledger.LogOddsBetween(mapClass, altClass, result.LogPrior)

	if math.Abs(directLogOdds-reconstructed) > 1e-6 {
		t.Fatalf("ledger decomposition mismatch: direct=%v reconstructed=%v", directLogOdds, reconstructed)
	}
}

func TestDefensiveFallbackOnNaN(t *testing.T) {
	priors := testPriors()
	priors.CPUOccupancy["useful"] = config.BetaParams{Alpha: -1, Beta: -1} // forces NaN in logBeta
	engine := NewEngine(priors)
	ev := CandidateEvidence{
		CandidateID:       "p3",
		CPUFrac:           0.5,
		CPUFracNEff:       3,
		CPUFracProvenance: ProvenanceOK,
	}
	result, err := engine.Classify(ev, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	sum := 0.0
	for _, p := range result.Posterior {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("fallback posterior does not normalize: sum=%v", sum)
	}
	if len(result.Ledger.Entries) != 1 || result.Ledger.Entries[0].Factor != "defensive_fallback" {
		t.Fatalf("expected single defensive_fallback ledger entry, got %+v", result.Ledger.Entries)
	}
}

func TestBFBucketing(t *testing.T) {
	cases := []struct {
		logBF float64
		want  BFBucket
	}{
		{0.5, BFWeak},
		{2.0, BFModerate},
		{4.0, BFStrong},
		{6.0, BFDecisive},
	}
	for _, tc := range cases {
		if got := jeffreysBucket(tc.logBF); got != tc.want {
			t.Errorf("jeffreysBucket(%v) = %v, want %v", tc.logBF, got, tc.want)
		}
	}
}
