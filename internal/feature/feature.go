package feature

import (
	"github.com/proctriage/proctriage/internal/collector"
	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/inference"
)

// Bundle is the Derived Feature Bundle for one candidate (spec §3),
// carrying both the fields consumed directly by inference
// (CandidateEvidence) and the extra context the decision engine and
// session artifacts need (category, signature, protected flag).
type Bundle struct {
	Sample   collector.ProcessSample
	Evidence inference.CandidateEvidence

	Category       Category
	ProtectedProc  bool
	SignatureMatch *MatchRecord
}

// Deriver turns raw collector samples into provenance-tagged Bundles
// (spec §4.2). It is pure with respect to its inputs; all randomness and
// I/O has already happened in the collector.
type Deriver struct {
	signatures               []Signature
	protectedPatterns        []string
	supervisorQueryAvailable bool
}

func NewDeriver(signatures []Signature, protectedPatterns []string, supervisorQueryAvailable bool) *Deriver {
	return &Deriver{
		signatures:               signatures,
		protectedPatterns:        protectedPatterns,
		supervisorQueryAvailable: supervisorQueryAvailable,
	}
}

// Derive builds one Bundle from a sample plus its tick-delta series and
// host context (spec §4.2). Every derived field references its source
// samples implicitly through the provenance markers it sets; a field
// whose source failed is present with a degraded/missing marker rather
// than silently defaulting to zero (spec §4.2 invariant).
func (d *Deriver) Derive(sample collector.ProcessSample, series []collector.TickSample, host collector.HostContext) Bundle {
	target := MatchTarget{
		Comm:       sample.Comm,
		Argv:       sample.Argv,
		Cwd:        string(sample.CwdKind),
		ParentName: "",
	}

	matchRecord, matched := Match(d.signatures, target)
	category := Categorize(sample.Comm, sample.Argv, sample.CwdKind)

	cpuFrac := collector.DeriveCPUFraction(series, host.ClockTicksHz)
	cpuProvenance := inference.ProvenanceOK
	if cpuFrac.NEff <= 0 {
		cpuProvenance = inference.ProvenanceMissing
	}

	age := ageSeconds(sample, host)
	ageProvenance := inference.ProvenanceOK
	if age < 0 {
		ageProvenance = inference.ProvenanceMissing
		age = 0
	}

	orphan := EvaluateOrphan(sample.PPID, sample.Supervisor, d.supervisorQueryAvailable)
	orphanTri := inference.TriUnknown
	orphanProvenance := inference.ProvenanceDegraded
	if orphan.Known {
		orphanProvenance = inference.ProvenanceOK
		if orphan.Orphan == "true" {
			orphanTri = inference.TriTrue
		} else {
			orphanTri = inference.TriFalse
		}
	}

	ttyTri := inference.TriFalse
	if sample.TTY != "" {
		ttyTri = inference.TriTrue
	}

	writeFDTri := inference.TriUnknown
	writeFDProvenance := inference.ProvenanceMissing
	if sample.OpenWriteFDs != nil {
		writeFDProvenance = inference.ProvenanceOK
		if *sample.OpenWriteFDs > 0 {
			writeFDTri = inference.TriTrue
		} else {
			writeFDTri = inference.TriFalse
		}
	}

	ev := inference.CandidateEvidence{
		CandidateID:       sample.Identity.StartID(),
		CPUFrac:           cpuFrac.Value,
		CPUFracNEff:       cpuFrac.NEff,
		CPUFracProvenance: cpuProvenance,
		AgeSeconds:        age,
		AgeProvenance:     ageProvenance,
		StillAlive:        sample.State != collector.StateZombie,
		RuntimeSource:     selectRuntimeSource(ageProvenance),
		Orphan:            orphanTri,
		OrphanProvenance:  orphanProvenance,
		TTYAttached:       ttyTri,
		WriteFDPresent:    writeFDTri,
		WriteFDProvenance: writeFDProvenance,
		Category:          string(category),
	}

	var sig *MatchRecord
	if matched {
		sig = &matchRecord
	}

	return Bundle{
		Sample:         sample,
		Evidence:       ev,
		Category:       category,
		ProtectedProc:  matchesProtectedPattern(sample.Comm, d.protectedPatterns),
		SignatureMatch: sig,
	}
}

// selectRuntimeSource enforces the correlation discipline of spec §4.3:
// at most one of {naive, hazard} likelihoods may fire. This core always
// prefers the right-censored hazard likelihood when age is available,
// since it correctly accounts for the process still being alive; naive
// is reserved for a future source that cannot express censoring.
func selectRuntimeSource(ageProvenance inference.Provenance) inference.RuntimeSource {
	if ageProvenance == inference.ProvenanceMissing {
		return inference.RuntimeSourceNone
	}
	return inference.RuntimeSourceHazard
}

// ageSeconds computes how long the process has existed from its
// start_time_ticks and the host's boot-relative uptime (spec §3 "age in
// seconds"). Returns -1 if the inputs cannot support the computation.
func ageSeconds(sample collector.ProcessSample, host collector.HostContext) float64 {
	if host.ClockTicksHz <= 0 || host.UptimeSeconds <= 0 {
		return -1
	}
	startSeconds := float64(sample.Identity.StartTimeTicks) / float64(host.ClockTicksHz)
	age := host.UptimeSeconds - startSeconds
	if age < 0 {
		return -1
	}
	return age
}

func matchesProtectedPattern(comm string, patterns []string) bool {
	for _, p := range patterns {
		if p == comm {
			return true
		}
	}
	return false
}

// ResolvePriors merges a signature's priors_overrides onto the base
// priors, producing the effective PriorsConfig inference.Engine.Classify
// should use for this candidate (spec §4.2 "substitutes its
// priors_overrides for the relevant per-class Beta/Gamma hyperparameters").
func ResolvePriors(base *config.PriorsConfig, sig *MatchRecord) *config.PriorsConfig {
	if sig == nil || sig.PriorsOverrides == nil {
		return base
	}
	merged := *base
	if sig.PriorsOverrides.CPUOccupancy != nil {
		merged.CPUOccupancy = sig.PriorsOverrides.CPUOccupancy
	}
	if sig.PriorsOverrides.Hazard != nil {
		merged.Hazard = sig.PriorsOverrides.Hazard
	}
	if sig.PriorsOverrides.OrphanBernoulli != nil {
		merged.OrphanBernoulli = sig.PriorsOverrides.OrphanBernoulli
	}
	return &merged
}
