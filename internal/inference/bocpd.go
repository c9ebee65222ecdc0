package inference

import "math"

// BOCPD implements Bayesian online change-point detection over the
// CPU-tick delta stream (spec §4.3 "Change-point detector"): a run-length
// posterior P(r_t | x_{1:t}) updated one observation at a time under a
// geometric hazard, using a Normal-Inverse-Gamma predictive as the
// per-run-length observation model (the standard conjugate choice for a
// real-valued stream with unknown mean/variance, the same role the
// teacher's pressure.go EWMA plays as a bounded-memory online update,
// generalized here to a full run-length posterior instead of a single
// smoothed scalar).
type BOCPD struct {
	hazard float64 // geometric hazard rate (1 / expected run length)
	runLengthPosterior []float64
	priorMean, priorVar float64
	sufficientStats []nigStats
}

// nigStats holds the online Normal-Inverse-Gamma sufficient statistics
// for one active run length: count, running mean, running sum of squares.
type nigStats struct {
	n      float64
	mean   float64
	m2     float64 // sum of squared deviations from mean (Welford)
}

// NewBOCPD constructs a detector with the given geometric hazard rate
// (e.g. 1/250 for an expected 250-sample run length) and prior belief
// about the stream's mean/variance before any observation.
func NewBOCPD(hazard, priorMean, priorVar float64) *BOCPD {
	return &BOCPD{
		hazard:             hazard,
		runLengthPosterior: []float64{1.0},
		priorMean:          priorMean,
		priorVar:           priorVar,
		sufficientStats:    []nigStats{{}},
	}
}

// Observe folds one new CPU-tick delta into the run-length posterior and
// returns the MAP run length plus the log evidence of "no changepoint in
// the last W samples" vs "at least one" (spec §4.3 output contract).
func (b *BOCPD) Observe(x float64, window int) (mapRunLength int, logBFNoChangeVsChange float64) {
	n := len(b.runLengthPosterior)
	predLogProb := make([]float64, n)
	for r := 0; r < n; r++ {
		predLogProb[r] = b.predictiveLogProb(x, b.sufficientStats[r])
	}

	growth := make([]float64, n)
	for r := 0; r < n; r++ {
		growth[r] = b.runLengthPosterior[r] + predLogProb[r] + math.Log(1-b.hazard)
	}
	changepoint := logSumExp(addScalar(addVec(b.runLengthPosterior, predLogProb), math.Log(b.hazard))...)

	newPosterior := make([]float64, n+1)
	newPosterior[0] = changepoint
	copy(newPosterior[1:], growth)

	logZ := logSumExp(newPosterior...)
	for i := range newPosterior {
		newPosterior[i] -= logZ
	}

	newStats := make([]nigStats, n+1)
	newStats[0] = nigStats{}
	for r := 0; r < n; r++ {
		newStats[r+1] = updateStats(b.sufficientStats[r], x)
	}

	b.runLengthPosterior = newPosterior
	b.sufficientStats = newStats

	mapR := 0
	mapP := newPosterior[0]
	for r, p := range newPosterior {
		if p > mapP {
			mapP = p
			mapR = r
		}
	}

	logBF := b.noChangeVsChangeLogBF(window)
	return mapR, logBF
}

// noChangeVsChangeLogBF sums run-length posterior mass at or above window
// as "no changepoint" evidence versus mass below window as "changepoint",
// expressed as a log Bayes factor (spec §4.3).
func (b *BOCPD) noChangeVsChangeLogBF(window int) float64 {
	var noChange, change []float64
	for r, logP := range b.runLengthPosterior {
		if r >= window {
			noChange = append(noChange, logP)
		} else {
			change = append(change, logP)
		}
	}
	if len(noChange) == 0 {
		return math.Inf(-1)
	}
	if len(change) == 0 {
		return math.Inf(1)
	}
	return logSumExp(noChange...) - logSumExp(change...)
}

func (b *BOCPD) predictiveLogProb(x float64, s nigStats) float64 {
	mean := b.priorMean
	variance := b.priorVar
	if s.n > 0 {
		mean = s.mean
		if s.n > 1 {
			variance = s.m2 / (s.n - 1)
		}
	}
	if variance <= 0 {
		variance = b.priorVar
		if variance <= 0 {
			variance = 1e-6
		}
	}
	return -0.5*math.Log(2*math.Pi*variance) - (x-mean)*(x-mean)/(2*variance)
}

func updateStats(s nigStats, x float64) nigStats {
	s.n++
	delta := x - s.mean
	s.mean += delta / s.n
	delta2 := x - s.mean
	s.m2 += delta * delta2
	return s
}

func addVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func addScalar(a []float64, s float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + s
	}
	return out
}
