package decision

import "sync"

// Guardrail is a fixed-capacity, per-run consumption counter for
// destructive actions, adapted from the teacher's refilling token bucket:
// a single run never lives long enough to need a refill cycle, so this
// variant spends down from capacity and never replenishes (spec §4.4
// "max_kills_per_run", "max_kills_per_category").
type Guardrail struct {
	mu               sync.Mutex
	remainingTotal   int
	totalCapped      bool
	remainingByClass map[string]int
	categoryCapped   map[string]bool
}

// NewGuardrail builds a Guardrail with the configured per-run and
// per-category caps. A zero cap means unlimited for that dimension.
func NewGuardrail(maxPerRun int, maxPerCategory map[string]int) *Guardrail {
	byClass := make(map[string]int, len(maxPerCategory))
	capped := make(map[string]bool, len(maxPerCategory))
	for k, v := range maxPerCategory {
		byClass[k] = v
		capped[k] = v > 0
	}
	return &Guardrail{
		remainingTotal:   maxPerRun,
		totalCapped:      maxPerRun > 0,
		remainingByClass: byClass,
		categoryCapped:   capped,
	}
}

// Consume attempts to spend one unit of destructive-action budget for the
// given category. A configured cap of 0 means unlimited (matches the
// config package's gte=0, not-required validation for these fields).
// Returns false if either the total or the per-category cap has been
// exhausted; the caller downgrades the action on false.
func (g *Guardrail) Consume(category string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.remainingTotal == 0 && g.totalCapped {
		return false
	}
	if cap, tracked := g.remainingByClass[category]; tracked && cap == 0 && g.categoryCapped[category] {
		return false
	}

	if g.totalCapped {
		g.remainingTotal--
	}
	if g.categoryCapped[category] {
		g.remainingByClass[category]--
	}
	return true
}

// RemainingTotal returns the remaining per-run destructive-action budget.
func (g *Guardrail) RemainingTotal() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingTotal
}
