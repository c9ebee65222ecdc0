package decision

import (
	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/feature"
	"github.com/proctriage/proctriage/internal/inference"
)

// CandidateInput bundles one candidate's classification and feature
// bundle, the shape the decision engine consumes from the pipeline.
type CandidateInput struct {
	Classification *inference.Classification
	Bundle         feature.Bundle
	GateInput      GateInput
}

// Engine runs the decision engine single-threaded over a run's candidates
// (spec §5: "to keep FDR/alpha-investing wealth computations
// deterministic").
type Engine struct {
	policy    *config.PolicyConfig
	guardrail *Guardrail
	wealth    *WealthStore
	wealthKey string
}

func NewEngine(policy *config.PolicyConfig, guardrail *Guardrail, wealth *WealthStore, wealthKey string) *Engine {
	return &Engine{policy: policy, guardrail: guardrail, wealth: wealth, wealthKey: wealthKey}
}

// Run evaluates gates for every candidate, applies the FDR multiple-
// testing gate across the destructive-admissible subset, then selects
// and stages each candidate's final action (spec §4.4).
func (e *Engine) Run(inputs []CandidateInput) ([]CandidatePlan, error) {
	gateDecisions := make([]GateDecision, len(inputs))
	for i, in := range inputs {
		gateDecisions[i] = EvaluateGates(in.GateInput, e.policy)
	}

	eValues := make([]EValueCandidate, 0, len(inputs))
	for i, in := range inputs {
		if !anyDestructive(gateDecisions[i].AdmissibleActions) {
			continue
		}
		eValues = append(eValues, EValueCandidate{
			CandidateID: in.Classification.CandidateID,
			EValue:      eValue(in.Classification.Posterior),
		})
	}

	currentWealth := 0.0
	var err error
	if e.wealth != nil {
		currentWealth, err = e.wealth.Get(e.wealthKey, e.policy.FDR.TargetAlpha*float64(len(eValues)))
		if err != nil {
			return nil, err
		}
	}

	var bh BHResult
	if len(eValues) > 1 && currentWealth > 0 {
		bh = ApplyBHGate(eValues, e.policy.FDR.TargetAlpha)
	} else if len(eValues) == 1 && currentWealth > 0 {
		bh = BHResult{Admitted: map[string]bool{eValues[0].CandidateID: true}, K: 1}
	} else {
		bh = BHResult{Admitted: map[string]bool{}}
	}

	if e.wealth != nil {
		newWealth, werr := e.wealth.Update(e.wealthKey, currentWealth, bh.K, e.policy.FDR.TargetAlpha, e.policy.FDR.WealthEarnRate)
		if werr != nil {
			return nil, werr
		}
		currentWealth = newWealth
	}

	plans := make([]CandidatePlan, len(inputs))
	for i, in := range inputs {
		admissible := gateDecisions[i].AdmissibleActions
		if anyDestructive(admissible) && !bh.Admitted[in.Classification.CandidateID] {
			admissible = dropDestructive(admissible)
		}

		action, _ := SelectAction(in.Classification.Posterior, e.policy, admissible)

		if action.Destructive() {
			category := in.Bundle.Category
			if e.guardrail != nil && !e.guardrail.Consume(string(category)) {
				action, _ = SelectAction(in.Classification.Posterior, e.policy, dropDestructive(admissible))
			}
		}

		skipReason := gateDecisions[i].SkipReason
		if action == ActionSkip && skipReason == "" {
			skipReason = "no_admissible_action"
		}

		supervisorUnit := ""
		if in.Bundle.Sample.Supervisor != nil && in.Bundle.Sample.Supervisor.SystemdUnit != "" {
			supervisorUnit = in.Bundle.Sample.Supervisor.SystemdUnit
		}

		plans[i] = CandidatePlan{
			CandidateID:   in.Classification.CandidateID,
			PlannedAction: action,
			Identity:      in.Bundle.Sample.Identity,
			Steps:         BuildSteps(action, e.policy.TerminateGraceSeconds, supervisorUnit, false, in.Bundle.Sample.CgroupPath),
			GateLog:       gateDecisions[i].GateLog,
			SkipReason:    skipReason,
		}
	}

	return plans, nil
}

// eValue computes e_i = P(abandoned|x_i) / P(useful|x_i) (spec §4.4), a
// valid e-value under the chosen prior. Guards against division by a
// vanishing denominator by substituting a floor.
func eValue(posterior map[inference.Class]float64) float64 {
	useful := posterior[inference.ClassUseful]
	if useful <= 0 {
		useful = 1e-9
	}
	return posterior[inference.ClassAbandoned] / useful
}
