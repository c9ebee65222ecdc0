package inference

import (
	"fmt"
	"math"

	"github.com/proctriage/proctriage/internal/config"
)

// Provenance marks whether a piece of evidence was fully observed,
// degraded (partial/timed-out probe), or missing entirely. Missing
// evidence must never be silently treated as zero (spec §4.2 invariant).
type Provenance string

const (
	ProvenanceOK       Provenance = "ok"
	ProvenanceDegraded Provenance = "degraded"
	ProvenanceMissing  Provenance = "missing"
)

// TriBool is a presence indicator that can also be "unknown" (spec §4.2
// "orphan is conservatively reported as unknown").
type TriBool string

const (
	TriTrue    TriBool = "true"
	TriFalse   TriBool = "false"
	TriUnknown TriBool = "unknown"
)

// CandidateEvidence is the Derived Feature Bundle's content relevant to
// inference (spec §3 "Derived Feature Bundle"), keyed by provenance so a
// degraded or missing source still reaches the ledger as such.
type CandidateEvidence struct {
	CandidateID string

	CPUFrac           float64
	CPUFracNEff        float64
	CPUFracProvenance  Provenance

	AgeSeconds        float64
	AgeProvenance     Provenance
	// StillAlive is true for the right-censored hazard likelihood
	// (spec §4.3 "right-censoring").
	StillAlive bool

	// RuntimeSource records which of {naive, hazard} fired, enforcing the
	// correlation discipline of spec §4.3 (exactly one may fire).
	RuntimeSource RuntimeSource

	Orphan           TriBool
	OrphanProvenance Provenance

	TTYAttached TriBool

	WriteFDPresent           TriBool
	WriteFDProvenance        Provenance

	Category string

	// ChangePointLogBF is the BOCPD detector's log Bayes factor of "at
	// least one changepoint in the last W samples" vs "none" (spec §4.3).
	ChangePointLogBF float64
	ChangePointKnown bool
}

// RuntimeSource selects which age-derived evidence term fires (spec §4.3
// "Correlation discipline").
type RuntimeSource string

const (
	RuntimeSourceNone   RuntimeSource = "none"
	RuntimeSourceNaive  RuntimeSource = "naive"
	RuntimeSourceHazard RuntimeSource = "hazard"
)

// Classification is the Candidate Classification output (spec §3).
type Classification struct {
	CandidateID string             `json:"candidate_id"`
	Posterior   map[Class]float64  `json:"posterior"`
	MAPClass    Class              `json:"map_class"`
	Entropy     float64            `json:"entropy"`
	Ledger      Ledger             `json:"ledger"`
	LogPrior    map[Class]float64  `json:"log_prior"`
}

// Engine computes posteriors. It holds no per-candidate state; every call
// to Classify is independent, matching the work-stealing, per-candidate
// concurrency model of spec §5.
type Engine struct {
	priors *config.PriorsConfig
}

func NewEngine(priors *config.PriorsConfig) *Engine {
	return &Engine{priors: priors}
}

// Classify computes the log-domain posterior for one candidate and
// returns the evidence ledger sufficient to reconstruct it (spec §4.3).
// On NaN/Inf in any intermediate, it defensively falls back to a
// prior-only classification and records the failure as a ledger entry
// (spec §7 "Propagation policy").
func (e *Engine) Classify(ev CandidateEvidence, categoryOverride *config.PriorsConfig) (*Classification, error) {
	priors := e.priors
	if categoryOverride != nil {
		priors = categoryOverride
	}

	logPrior := logPriorOdds(priors.ClassPrior)

	ledger := Ledger{}
	logLikSum := map[Class]float64{}
	for _, c := range Classes {
		logLikSum[c] = 0
	}

	if ev.CPUFracProvenance != ProvenanceMissing && ev.CPUFracNEff > 0 {
		term := cpuOccupancyTerm(ev, priors)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add("cpu_occupancy", term, mapC, altC,
			fmt.Sprintf("cpu_frac=%.4f n_eff=%.2f", ev.CPUFrac, ev.CPUFracNEff),
			ev.CPUFracProvenance == ProvenanceDegraded)
		logLikSum = addMaps(logLikSum, term)
	}

	if ev.AgeProvenance != ProvenanceMissing && ev.RuntimeSource != RuntimeSourceNone {
		term := runtimeTerm(ev, priors)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add(string("runtime_"+ev.RuntimeSource), term, mapC, altC,
			fmt.Sprintf("age_s=%.0f source=%s", ev.AgeSeconds, ev.RuntimeSource),
			ev.AgeProvenance == ProvenanceDegraded)
		logLikSum = addMaps(logLikSum, term)
	}

	if ev.Orphan != TriUnknown {
		term := bernoulliTerm(ev.Orphan == TriTrue, priors.OrphanBernoulli)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add("orphan", term, mapC, altC, fmt.Sprintf("orphan=%s", ev.Orphan), false)
		logLikSum = addMaps(logLikSum, term)
	} else if ev.OrphanProvenance != ProvenanceMissing {
		term := bernoulliTermReducedStrength(ev.Orphan == TriTrue, priors.OrphanBernoulli)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add("orphan", term, mapC, altC, "orphan=unknown (no supervisor attribution)", true)
		logLikSum = addMaps(logLikSum, term)
	}

	if ev.TTYAttached != TriUnknown {
		term := bernoulliTerm(ev.TTYAttached == TriTrue, priors.TTYBernoulli)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add("tty_attached", term, mapC, altC, fmt.Sprintf("tty=%s", ev.TTYAttached), false)
		logLikSum = addMaps(logLikSum, term)
	}

	if ev.WriteFDPresent != TriUnknown && ev.WriteFDProvenance != ProvenanceMissing {
		term := bernoulliTerm(ev.WriteFDPresent == TriTrue, priors.WriteFDBernoulli)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add("write_fd", term, mapC, altC, fmt.Sprintf("write_fd=%s", ev.WriteFDPresent),
			ev.WriteFDProvenance == ProvenanceDegraded)
		logLikSum = addMaps(logLikSum, term)
	}

	if ev.Category != "" {
		term := categoricalTerm(ev.Category, priors.CategoryDirichlet)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add("category", term, mapC, altC, fmt.Sprintf("category=%s", ev.Category), false)
		logLikSum = addMaps(logLikSum, term)
	}

	if ev.ChangePointKnown {
		term := changePointTerm(ev.ChangePointLogBF)
		mapC, altC := top2(addMaps(logPrior, addMaps(logLikSum, term)))
		ledger.Add("change_point", term, mapC, altC, fmt.Sprintf("log_bf=%.3f", ev.ChangePointLogBF), false)
		logLikSum = addMaps(logLikSum, term)
	}

	logUnnorm := addMaps(logPrior, logLikSum)
	if hasNaNOrInf(logUnnorm) {
		return defensiveFallback(ev.CandidateID, logPrior), nil
	}

	logZ := logSumExp(valuesInOrder(logUnnorm)...)
	posterior := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		posterior[c] = math.Exp(logUnnorm[c] - logZ)
	}

	mapClass := argmax(posterior)
	entropy := shannonEntropy(posterior)

	return &Classification{
		CandidateID: ev.CandidateID,
		Posterior:   posterior,
		MAPClass:    mapClass,
		Entropy:     entropy,
		Ledger:      ledger,
		LogPrior:    logPrior,
	}, nil
}

func logPriorOdds(classPrior map[string]float64) map[Class]float64 {
	out := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		p := classPrior[string(c)]
		if p <= 0 {
			p = 1e-9
		}
		out[c] = math.Log(p)
	}
	return out
}

func cpuOccupancyTerm(ev CandidateEvidence, priors *config.PriorsConfig) map[Class]float64 {
	out := make(map[Class]float64, len(Classes))
	k := ev.CPUFrac * ev.CPUFracNEff
	for _, c := range Classes {
		p := priors.CPUOccupancy[string(c)]
		out[c] = logBetaBinomial(k, ev.CPUFracNEff, p.Alpha, p.Beta)
	}
	return out
}

func runtimeTerm(ev CandidateEvidence, priors *config.PriorsConfig) map[Class]float64 {
	out := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		p := priors.Hazard[string(c)]
		switch ev.RuntimeSource {
		case RuntimeSourceHazard:
			if ev.StillAlive {
				out[c] = logGammaSurvival(ev.AgeSeconds, p.Shape, p.Rate)
			} else {
				out[c] = logGammaDensity(ev.AgeSeconds, p.Shape, p.Rate)
			}
		default: // naive
			out[c] = logGammaDensity(ev.AgeSeconds, p.Shape, p.Rate)
		}
	}
	return out
}

func bernoulliTerm(present bool, priors map[string]config.BetaParams) map[Class]float64 {
	out := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		p := priors[string(c)]
		mean := p.Alpha / (p.Alpha + p.Beta)
		if present {
			out[c] = math.Log(mean)
		} else {
			out[c] = math.Log(1 - mean)
		}
	}
	return out
}

// bernoulliTermReducedStrength halves the log-likelihood magnitude for
// conservatively-reported "unknown" presence (spec §4.2).
func bernoulliTermReducedStrength(present bool, priors map[string]config.BetaParams) map[Class]float64 {
	out := bernoulliTerm(present, priors)
	for c, v := range out {
		out[c] = v * 0.5
	}
	return out
}

func categoricalTerm(category string, dirichlet map[string]config.DirichletParams) map[Class]float64 {
	out := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		d := dirichlet[string(c)]
		total := 0.0
		for _, v := range d.Concentration {
			total += v
		}
		conc := d.Concentration[category]
		if conc <= 0 {
			conc = 1e-3
		}
		out[c] = math.Log(conc / total)
	}
	return out
}

// changePointTerm spreads the BOCPD log Bayes factor toward the
// non-"useful" classes: a recent change in CPU regime is evidence against
// "steady useful work" (spec §4.3).
func changePointTerm(logBF float64) map[Class]float64 {
	return map[Class]float64{
		ClassUseful:    0,
		ClassUsefulBad: logBF * 0.5,
		ClassAbandoned: logBF,
		ClassZombie:    logBF * 0.25,
	}
}

func defensiveFallback(candidateID string, logPrior map[Class]float64) *Classification {
	logZ := logSumExp(valuesInOrder(logPrior)...)
	posterior := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		posterior[c] = math.Exp(logPrior[c] - logZ)
	}
	ledger := Ledger{Entries: []LedgerEntry{{
		Factor:   "defensive_fallback",
		Detail:   "NaN or Inf detected in log-domain evidence; falling back to prior-only classification",
		Degraded: true,
	}}}
	return &Classification{
		CandidateID: candidateID,
		Posterior:   posterior,
		MAPClass:    argmax(posterior),
		Entropy:     shannonEntropy(posterior),
		Ledger:      ledger,
		LogPrior:    logPrior,
	}
}

func addMaps(a, b map[Class]float64) map[Class]float64 {
	out := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		out[c] = a[c] + b[c]
	}
	return out
}

func valuesInOrder(m map[Class]float64) []float64 {
	out := make([]float64, len(Classes))
	for i, c := range Classes {
		out[i] = m[c]
	}
	return out
}

func hasNaNOrInf(m map[Class]float64) bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func argmax(posterior map[Class]float64) Class {
	best := Classes[0]
	bestP := posterior[best]
	for _, c := range Classes[1:] {
		if posterior[c] > bestP {
			best = c
			bestP = posterior[c]
		}
	}
	return best
}

// top2 returns the MAP class and runner-up class for Bayes-factor
// reporting (spec §4.3 "Bayes factor surface").
func top2(combined map[Class]float64) (mapClass, altClass Class) {
	type kv struct {
		c Class
		v float64
	}
	all := make([]kv, 0, len(Classes))
	for _, c := range Classes {
		all = append(all, kv{c, combined[c]})
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].v > all[i].v {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	return all[0].c, all[1].c
}

func shannonEntropy(posterior map[Class]float64) float64 {
	h := 0.0
	for _, p := range posterior {
		if p <= 0 {
			continue
		}
		h -= p * math.Log(p)
	}
	return h
}
