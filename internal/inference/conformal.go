package inference

import (
	"math"
	"sort"
)

// CalibrationSample is one prior outcome used to calibrate conformal
// p-values: the true class and the posterior the model assigned it at
// the time (spec §4.3 "calibration set of prior outcomes").
type CalibrationSample struct {
	TrueClass Class
	Posterior map[Class]float64
}

// Conformal computes split-conformal prediction sets using the
// non-conformity score s(x, c) = -log P(c|x) (spec §4.3).
type Conformal struct {
	// scoresByClass[c] holds the sorted non-conformity scores of every
	// calibration sample whose true class was c.
	scoresByClass map[Class][]float64
}

// NewConformal builds a Conformal calibrator from a calibration set. An
// empty set is bootstrapped from priors by the caller before this is
// constructed (spec §4.3 "bootstrapped from priors when empty").
func NewConformal(calibration []CalibrationSample) *Conformal {
	byClass := make(map[Class][]float64)
	for _, s := range calibration {
		score := nonConformityScore(s.Posterior, s.TrueClass)
		byClass[s.TrueClass] = append(byClass[s.TrueClass], score)
	}
	for c := range byClass {
		sort.Float64s(byClass[c])
	}
	return &Conformal{scoresByClass: byClass}
}

func nonConformityScore(posterior map[Class]float64, c Class) float64 {
	p := posterior[c]
	if p <= 0 {
		return 1e12
	}
	return -math.Log(p)
}

// PredictionSet computes the per-class p-value and the conformal
// prediction set {c : p_c >= alpha} for one candidate's posterior
// (spec §4.3).
func (cal *Conformal) PredictionSet(posterior map[Class]float64, alpha float64) (pValues map[Class]float64, set []Class) {
	pValues = make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		score := nonConformityScore(posterior, c)
		scores := cal.scoresByClass[c]
		pValues[c] = pValueFor(score, scores)
		if pValues[c] >= alpha {
			set = append(set, c)
		}
	}
	return pValues, set
}

// pValueFor computes the fraction of calibration scores at least as
// extreme as score, with the standard +1 smoothing so p-values are never
// exactly zero for a finite calibration set.
func pValueFor(score float64, calibrationScores []float64) float64 {
	if len(calibrationScores) == 0 {
		return 1.0
	}
	count := 1 // the candidate itself
	idx := sort.SearchFloat64s(calibrationScores, score)
	count += len(calibrationScores) - idx
	return float64(count) / float64(len(calibrationScores)+1)
}
