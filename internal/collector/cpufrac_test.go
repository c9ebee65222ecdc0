package collector

import (
	"math"
	"testing"
	"time"
)

func TestDeriveCPUFractionBasic(t *testing.T) {
	base := time.Now()
	series := []TickSample{
		{At: base, UserTick: 0, SysTick: 0},
		{At: base.Add(500 * time.Millisecond), UserTick: 50, SysTick: 0},
		{At: base.Add(1000 * time.Millisecond), UserTick: 100, SysTick: 0},
	}

	cf := DeriveCPUFraction(series, 100)
	if math.Abs(cf.Value-1.0) > 1e-9 {
		t.Fatalf("cpu_frac = %v, want ~1.0 (busy loop)", cf.Value)
	}
	if cf.NEff <= 0 {
		t.Fatalf("n_eff = %v, want > 0", cf.NEff)
	}
}

func TestDeriveCPUFractionInsufficientSamples(t *testing.T) {
	cf := DeriveCPUFraction([]TickSample{{At: time.Now()}}, 100)
	if cf.NEff != 0 || cf.Value != 0 {
		t.Fatalf("expected zero-confidence CPUFraction for <2 samples, got %+v", cf)
	}
}

func TestDeriveCPUFractionRejectsCounterRegression(t *testing.T) {
	base := time.Now()
	series := []TickSample{
		{At: base, UserTick: 100, SysTick: 0},
		{At: base.Add(500 * time.Millisecond), UserTick: 10, SysTick: 0},
	}
	cf := DeriveCPUFraction(series, 100)
	if cf.NEff != 0 {
		t.Fatalf("expected missing-evidence CPUFraction on counter regression (pid reuse), got %+v", cf)
	}
}

func TestAutocorrelationShrinkageBoundedToUnitInterval(t *testing.T) {
	shrink := autocorrelationShrinkage([]float64{10, 10, 10, 10, 10})
	if shrink <= 0 || shrink > 1 {
		t.Fatalf("shrinkage = %v, want in (0, 1]", shrink)
	}
}
