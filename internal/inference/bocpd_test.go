package inference

import (
	"math"
	"testing"
)

func TestBOCPDDetectsRegimeShift(t *testing.T) {
	b := NewBOCPD(1.0/250, 0, 1)

	for i := 0; i < 50; i++ {
		b.Observe(0.01, 20)
	}
	_, preShiftBF := b.Observe(0.01, 20)

	for i := 0; i < 50; i++ {
		b.Observe(50.0, 20)
	}
	_, postShiftBF := b.Observe(50.0, 20)

	if postShiftBF >= preShiftBF {
		t.Fatalf("expected log BF for 'no changepoint' to drop sharply after a regime shift: pre=%v post=%v", preShiftBF, postShiftBF)
	}
}

func TestBOCPDRunLengthPosteriorNormalizes(t *testing.T) {
	b := NewBOCPD(0.01, 0, 1)
	for i := 0; i < 10; i++ {
		b.Observe(float64(i%3), 5)
	}
	sum := 0.0
	for _, logP := range b.runLengthPosterior {
		sum += math.Exp(logP)
	}
	if sum < 0.99 || sum > 1.01 {
		t.Fatalf("run-length posterior does not normalize: sum=%v", sum)
	}
}
