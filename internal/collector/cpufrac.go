package collector

import "math"

// CPUFraction implements the quick-scan cpu_frac / n_eff derivation of
// spec §4.1: from K >= 2 tick-delta samples d_1..d_{K-1} with per-sample
// durations T_i, cpu_frac = (sum d_i) / (sum T_i * hz). n_eff shrinks the
// raw sample count to account for first-order autocorrelation in the
// delta series, so that correlated samples (three 500ms apart observations
// of the same bursty process) cannot inflate evidence strength.
type CPUFraction struct {
	Value float64
	NEff  float64
}

// DeriveCPUFraction computes CPUFraction from a process's tick-sample
// series and the host clock tick rate. It requires at least two samples;
// fewer yields a zero-confidence CPUFraction (NEff = 0), which the
// inference engine must treat as missing evidence, not as cpu_frac = 0.
func DeriveCPUFraction(series []TickSample, hz int64) CPUFraction {
	if len(series) < 2 || hz <= 0 {
		return CPUFraction{}
	}

	n := len(series) - 1
	deltas := make([]float64, n)
	durations := make([]float64, n)

	var sumDelta, sumDuration, sumDurationSq float64
	for i := 0; i < n; i++ {
		prev, cur := series[i], series[i+1]
		d := float64((cur.UserTick + cur.SysTick) - (prev.UserTick + prev.SysTick))
		if d < 0 {
			// Counters must be monotonic within a run; a negative delta
			// means the pid was reused mid-scan. Treat as missing.
			return CPUFraction{}
		}
		t := cur.At.Sub(prev.At).Seconds()
		if t <= 0 {
			return CPUFraction{}
		}
		deltas[i] = d
		durations[i] = t
		sumDelta += d
		sumDuration += t
		sumDurationSq += t * t
	}

	cpuFrac := sumDelta / (sumDuration * float64(hz))

	shrink := autocorrelationShrinkage(deltas)
	nEff := (sumDuration * sumDuration / sumDurationSq) * shrink

	return CPUFraction{Value: cpuFrac, NEff: nEff}
}

// autocorrelationShrinkage estimates the first-order autocorrelation rho1
// of the delta series and returns the standard effective-sample-size
// shrinkage factor (1-rho1)/(1+rho1), clamped to (0, 1]. rho1 near 1
// (highly correlated bursts) drives n_eff toward a single effective
// observation; rho1 <= 0 leaves the raw count unshrunk.
func autocorrelationShrinkage(deltas []float64) float64 {
	n := len(deltas)
	if n < 2 {
		return 1.0
	}

	mean := 0.0
	for _, d := range deltas {
		mean += d
	}
	mean /= float64(n)

	var num, den float64
	for i := 0; i < n-1; i++ {
		num += (deltas[i] - mean) * (deltas[i+1] - mean)
	}
	for i := 0; i < n; i++ {
		den += (deltas[i] - mean) * (deltas[i] - mean)
	}
	if den == 0 {
		return 1.0
	}

	rho1 := num / den
	if rho1 < 0 {
		rho1 = 0
	}
	if rho1 > 0.999 {
		rho1 = 0.999
	}

	shrink := (1 - rho1) / (1 + rho1)
	if math.IsNaN(shrink) || shrink <= 0 {
		return 1e-6
	}
	return shrink
}
