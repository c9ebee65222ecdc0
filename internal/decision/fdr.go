package decision

import "sort"

// EValueCandidate is one candidate's e-value input to the Benjamini-
// Hochberg-style multiple-testing gate (spec §4.4).
type EValueCandidate struct {
	CandidateID string
	EValue      float64 // P(abandoned|x) / P(useful|x)
}

// BHResult reports which candidates survive the e-value gate.
type BHResult struct {
	Admitted map[string]bool
	K        int // size of the admitted prefix
}

// ApplyBHGate sorts candidates by descending e-value and admits the
// largest prefix k such that e_(k) >= n/(k*alpha) (spec §4.4). Candidates
// outside the prefix are downgraded to non-destructive elsewhere by the
// caller.
func ApplyBHGate(candidates []EValueCandidate, alpha float64) BHResult {
	n := len(candidates)
	admitted := make(map[string]bool, n)
	if n == 0 || alpha <= 0 {
		return BHResult{Admitted: admitted}
	}

	sorted := append([]EValueCandidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EValue > sorted[j].EValue })

	k := 0
	for i := n; i >= 1; i-- {
		threshold := float64(n) / (float64(i) * alpha)
		if sorted[i-1].EValue >= threshold {
			k = i
			break
		}
	}

	for i := 0; i < k; i++ {
		admitted[sorted[i].CandidateID] = true
	}
	return BHResult{Admitted: admitted, K: k}
}
