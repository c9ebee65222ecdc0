package inference

import (
	"math"
	"math/rand"
	"sort"

	"github.com/proctriage/proctriage/internal/config"
)

// calibrationSeed fixes the bootstrap RNG so a prior-bootstrapped
// calibration set (and therefore conformal p-values) is reproducible
// run to run, matching spec §8's "Plan re-inference" round-trip law.
const calibrationSeed = 1

// calibrationSamplesPerClass is the number of synthetic prior outcomes
// drawn per class when bootstrapping an empty calibration set.
const calibrationSamplesPerClass = 200

// calibrationNEff is the effective sample size assigned to bootstrapped
// CPU-occupancy draws; it only needs to be large enough that the
// Beta-Binomial term doesn't degenerate to "no information" (mathx.go's
// logBetaBinomial returns 0 for n<=0).
const calibrationNEff = 30.0

// BootstrapCalibrationFromPriors synthesizes a calibration set directly
// from the priors configuration, for runs with no real historical
// outcomes yet (spec §4.3 "bootstrapped from priors when empty"). For
// each class it draws synthetic evidence from that class's own conjugate
// priors (Beta for CPU occupancy and the presence indicators, Gamma for
// hazard, Dirichlet for category) and classifies the draw through the
// same posterior engine real candidates go through, so the resulting
// non-conformity scores reflect this policy's actual prior geometry
// rather than a fixed placeholder distribution.
func BootstrapCalibrationFromPriors(priors *config.PriorsConfig) []CalibrationSample {
	rng := rand.New(rand.NewSource(calibrationSeed))
	engine := NewEngine(priors)

	var out []CalibrationSample
	for _, c := range Classes {
		for i := 0; i < calibrationSamplesPerClass; i++ {
			ev := sampleEvidenceForClass(rng, priors, c)
			class, err := engine.Classify(ev, nil)
			if err != nil {
				continue
			}
			out = append(out, CalibrationSample{TrueClass: c, Posterior: class.Posterior})
		}
	}
	return out
}

// sampleEvidenceForClass draws one synthetic CandidateEvidence whose
// features are sampled from class c's own prior distributions.
func sampleEvidenceForClass(rng *rand.Rand, priors *config.PriorsConfig, c Class) CandidateEvidence {
	cpuBeta := priors.CPUOccupancy[string(c)]
	hazard := priors.Hazard[string(c)]
	orphanBeta := priors.OrphanBernoulli[string(c)]
	ttyBeta := priors.TTYBernoulli[string(c)]
	writeFDBeta := priors.WriteFDBernoulli[string(c)]
	category := sampleCategorical(rng, priors.CategoryDirichlet[string(c)].Concentration)

	return CandidateEvidence{
		CandidateID:       "calibration",
		CPUFrac:           sampleBeta(rng, cpuBeta.Alpha, cpuBeta.Beta),
		CPUFracNEff:       calibrationNEff,
		CPUFracProvenance: ProvenanceOK,
		AgeSeconds:        sampleGamma(rng, hazard.Shape, hazard.Rate),
		AgeProvenance:     ProvenanceOK,
		StillAlive:        true,
		RuntimeSource:     RuntimeSourceNaive,
		Orphan:            sampleTriBool(rng, orphanBeta),
		OrphanProvenance:  ProvenanceOK,
		TTYAttached:       sampleTriBool(rng, ttyBeta),
		WriteFDPresent:    sampleTriBool(rng, writeFDBeta),
		WriteFDProvenance: ProvenanceOK,
		Category:          category,
	}
}

func sampleTriBool(rng *rand.Rand, p config.BetaParams) TriBool {
	mean := p.Alpha / (p.Alpha + p.Beta)
	if rng.Float64() < mean {
		return TriTrue
	}
	return TriFalse
}

// sampleGamma draws from Gamma(shape, rate) via Marsaglia-Tsang for
// shape >= 1, with the standard Uniform^(1/shape) boost for shape < 1.
func sampleGamma(rng *rand.Rand, shape, rate float64) float64 {
	if shape <= 0 {
		shape = 1e-3
	}
	if rate <= 0 {
		rate = 1e-9
	}
	boost := 1.0
	a := shape
	if a < 1 {
		a++
		boost = math.Pow(rng.Float64(), 1/shape)
	}
	d := a - 1.0/3.0
	cInv := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + cInv*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return boost * d * v / rate
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return boost * d * v / rate
		}
	}
}

// sampleBeta draws from Beta(alpha, beta) via the ratio of two Gamma(.,1)
// draws: X/(X+Y) ~ Beta(alpha, beta) for X~Gamma(alpha,1), Y~Gamma(beta,1).
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha, 1)
	y := sampleGamma(rng, beta, 1)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleCategorical draws one key proportionally to a concentration
// vector's mass. Keys are sorted first so the draw is reproducible
// regardless of Go's randomized map iteration order.
func sampleCategorical(rng *rand.Rand, weights map[string]float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return "other"
	}
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := rng.Float64() * total
	for _, k := range keys {
		r -= weights[k]
		if r <= 0 {
			return k
		}
	}
	return keys[len(keys)-1]
}
