package decision

import (
	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/inference"
)

// ExpectedLoss computes EL(a) = Σ_c P(c|x) · L[c][a] for one admissible
// action (spec §4.4).
func ExpectedLoss(posterior map[inference.Class]float64, lossMatrix map[string]map[string]float64, a Action) float64 {
	total := 0.0
	for class, p := range posterior {
		row := lossMatrix[string(class)]
		total += p * row[string(a)]
	}
	return total
}

// SelectAction picks the admissible action minimizing expected loss. When
// the gap between the minimum and the runner-up is below gapTolerance
// relative to the minimum, the less destructive of the two (by Actions
// tie-break order) is preferred (spec §4.4 "not strictly separated").
func SelectAction(posterior map[inference.Class]float64, policy *config.PolicyConfig, admissible []Action) (Action, map[Action]float64) {
	if len(admissible) == 0 {
		return ActionSkip, nil
	}

	losses := make(map[Action]float64, len(admissible))
	for _, a := range admissible {
		losses[a] = ExpectedLoss(posterior, policy.LossMatrix, a)
	}

	ordered := orderByTieBreak(admissible)
	best := ordered[0]
	for _, a := range ordered[1:] {
		if losses[a] < losses[best] {
			best = a
		}
	}

	// Find the runner-up among the rest.
	runnerUp := best
	runnerUpSet := false
	for _, a := range ordered {
		if a == best {
			continue
		}
		if !runnerUpSet || losses[a] < losses[runnerUp] {
			runnerUp = a
			runnerUpSet = true
		}
	}

	if runnerUpSet && losses[best] > 0 {
		gap := (losses[runnerUp] - losses[best]) / losses[best]
		if gap < policy.LossGapTolerance {
			lessDestructive := best
			for _, a := range Actions {
				if a == best || a == runnerUp {
					lessDestructive = a
					break
				}
			}
			return lessDestructive, losses
		}
	}

	return best, losses
}

// orderByTieBreak returns admissible actions sorted into the fixed
// tie-break order keep < pause < throttle < renice < supervisor-stop <
// terminate (spec §4.4).
func orderByTieBreak(admissible []Action) []Action {
	set := make(map[Action]bool, len(admissible))
	for _, a := range admissible {
		set[a] = true
	}
	ordered := make([]Action, 0, len(admissible))
	for _, a := range Actions {
		if set[a] {
			ordered = append(ordered, a)
		}
	}
	return ordered
}
