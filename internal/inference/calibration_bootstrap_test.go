package inference

import "testing"

func TestBootstrapCalibrationFromPriorsIsNonEmptyPerClass(t *testing.T) {
	priors := testPriors()
	calibration := BootstrapCalibrationFromPriors(priors)
	if len(calibration) == 0 {
		t.Fatal("expected a non-empty bootstrapped calibration set")
	}

	byClass := make(map[Class]int)
	for _, s := range calibration {
		byClass[s.TrueClass]++
	}
	for _, c := range Classes {
		if byClass[c] == 0 {
			t.Errorf("expected at least one bootstrapped calibration sample for class %v", c)
		}
	}
}

func TestBootstrapCalibrationFromPriorsIsDeterministic(t *testing.T) {
	priors := testPriors()
	first := BootstrapCalibrationFromPriors(priors)
	second := BootstrapCalibrationFromPriors(priors)

	if len(first) != len(second) {
		t.Fatalf("bootstrap sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].TrueClass != second[i].TrueClass {
			t.Fatalf("sample %d class differs: %v vs %v", i, first[i].TrueClass, second[i].TrueClass)
		}
		for _, c := range Classes {
			if first[i].Posterior[c] != second[i].Posterior[c] {
				t.Fatalf("sample %d posterior[%v] differs: %v vs %v", i, c, first[i].Posterior[c], second[i].Posterior[c])
			}
		}
	}
}

func TestConformalWithBootstrappedCalibrationAdmitsSingletonSets(t *testing.T) {
	priors := testPriors()
	cal := NewConformal(BootstrapCalibrationFromPriors(priors))

	// A posterior heavily concentrated on "abandoned" should, against a
	// calibration set actually bootstrapped from the priors, produce a
	// non-trivial (non-all-classes) prediction set at a reasonable alpha -
	// the whole point of bootstrapping being to avoid gate 5 (spec §4.4)
	// blocking every destructive action unconditionally.
	posterior := map[Class]float64{
		ClassUseful: 0.01, ClassUsefulBad: 0.02, ClassAbandoned: 0.95, ClassZombie: 0.02,
	}
	_, set := cal.PredictionSet(posterior, 0.1)
	if len(set) >= len(Classes) {
		t.Fatalf("expected a non-trivial prediction set, got all %d classes admitted", len(set))
	}
}
