package inference

import "testing"

func TestConformalPredictionSetContainsTrueClassMostOfTheTime(t *testing.T) {
	var calibration []CalibrationSample
	for i := 0; i < 50; i++ {
		calibration = append(calibration, CalibrationSample{
			TrueClass: ClassUseful,
			Posterior: map[Class]float64{
				ClassUseful: 0.8, ClassUsefulBad: 0.1, ClassAbandoned: 0.05, ClassZombie: 0.05,
			},
		})
	}
	cal := NewConformal(calibration)

	posterior := map[Class]float64{
		ClassUseful: 0.75, ClassUsefulBad: 0.1, ClassAbandoned: 0.1, ClassZombie: 0.05,
	}
	_, set := cal.PredictionSet(posterior, 0.1)

	found := false
	for _, c := range set {
		if c == ClassUseful {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected prediction set to contain the well-calibrated true class, got %v", set)
	}
}

func TestConformalEmptyCalibrationYieldsTrivialPValues(t *testing.T) {
	cal := NewConformal(nil)
	posterior := map[Class]float64{
		ClassUseful: 0.25, ClassUsefulBad: 0.25, ClassAbandoned: 0.25, ClassZombie: 0.25,
	}
	pValues, set := cal.PredictionSet(posterior, 0.5)
	for _, c := range Classes {
		if pValues[c] != 1.0 {
			t.Errorf("p-value for %v = %v, want 1.0 with empty calibration set", c, pValues[c])
		}
	}
	if len(set) != len(Classes) {
		t.Fatalf("expected all classes admitted with trivial p-values, got %v", set)
	}
}
