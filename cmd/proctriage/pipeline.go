package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/proctriage/proctriage/internal/collector"
	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/decision"
	"github.com/proctriage/proctriage/internal/executor"
	"github.com/proctriage/proctriage/internal/feature"
	"github.com/proctriage/proctriage/internal/inference"
	"github.com/proctriage/proctriage/internal/session"
	"github.com/proctriage/proctriage/internal/triage"
)

// scanArtifact is the 01_scan.json stage artifact: the collector snapshot
// plus the raw tick-delta series the snapshot itself deliberately excludes
// from its own JSON encoding (collector.Snapshot.SampleSeries is tagged
// json:"-" since it is normally an in-process-only intermediate). Process
// Triage's stages run as separate CLI invocations against a durable
// session directory, so the series must be persisted here to let a later
// `infer` invocation re-derive cpu_frac exactly as `scan` observed it.
type scanArtifact struct {
	Snapshot     collector.Snapshot            `json:"snapshot"`
	SampleSeries map[int][]collector.TickSample `json:"sample_series"`
}

// inferArtifact is the 02_infer.json stage artifact: one entry per
// candidate carrying its feature bundle, classification, and conformal
// prediction set.
type inferArtifact struct {
	Candidates []inferredCandidate `json:"candidates"`
}

type inferredCandidate struct {
	Bundle         feature.Bundle            `json:"bundle"`
	Classification *inference.Classification `json:"classification"`
	ConformalSet   []inference.Class         `json:"conformal_set"`
	PValues        map[inference.Class]float64 `json:"p_values"`
}

func runScanStage(ctx context.Context, a *app, store *session.Store, profile string) (*scanArtifact, error) {
	start := time.Now()
	coll, err := collector.New(a.log, collector.Options{
		ConcurrencyCeiling: a.agentCfg.Collector.ConcurrencyCeiling,
		ProbeTimeout:       a.agentCfg.Collector.ProbeTimeout,
		ProbeByteCap:       a.agentCfg.Collector.ProbeByteCap,
		PerfPinPath:        a.agentCfg.Collector.PerfPinPath,
		SelfNice:           a.capabilities.Permissions.Nice,
	}, "/proc")
	if err != nil {
		return nil, fmt.Errorf("%w: collector init: %v", triage.ErrCapabilityMissing, err)
	}
	defer coll.Close()

	snap, err := coll.QuickScan(ctx)
	if err != nil {
		return nil, fmt.Errorf("quick scan: %w", err)
	}

	if profile == string(collector.ScanDeep) {
		if !a.capabilities.ProcReadable {
			return nil, fmt.Errorf("%w: deep scan requires proc_readable", triage.ErrCapabilityMissing)
		}
		pids := make([]int, 0, len(snap.Samples))
		for _, s := range snap.Samples {
			pids = append(pids, s.Identity.PID)
		}
		deep, err := coll.DeepScan(ctx, snap, pids, toCollectorCapabilities(a.capabilities))
		if err != nil {
			return nil, fmt.Errorf("deep scan: %w", err)
		}
		snap = deep
	}

	artifact := &scanArtifact{Snapshot: *snap, SampleSeries: snap.SampleSeries}
	if err := store.WriteRedactedStage(session.StageScan, artifact, session.NewRedactor(a.redaction)); err != nil {
		return nil, fmt.Errorf("write scan stage: %w", err)
	}

	a.metrics.ScanDuration.WithLabelValues(profile).Observe(time.Since(start).Seconds())
	a.metrics.ScanProcessCount.Set(float64(len(artifact.Snapshot.Samples)))
	return artifact, nil
}

func runInferStage(a *app, store *session.Store, scan *scanArtifact) (*inferArtifact, error) {
	deriver := feature.NewDeriver(a.sigs, a.policy.Guardrails.ProtectedPatterns, scan.Snapshot.Profile == collector.ScanDeep)
	engine := inference.NewEngine(a.priors)
	conformal := inference.NewConformal(inference.BootstrapCalibrationFromPriors(a.priors))

	out := &inferArtifact{}
	for _, sample := range scan.Snapshot.Samples {
		series := scan.SampleSeries[sample.Identity.PID]
		bundle := deriver.Derive(sample, series, scan.Snapshot.Host)

		priors := feature.ResolvePriors(a.priors, bundle.SignatureMatch)
		class, err := engine.Classify(bundle.Evidence, priors)
		if err != nil {
			a.log.Warn("classification failed", zap.String("candidate_id", bundle.Evidence.CandidateID), zap.Error(err))
			continue
		}

		pValues, set := conformal.PredictionSet(class.Posterior, 1-a.policy.ConfidenceFloor)

		out.Candidates = append(out.Candidates, inferredCandidate{
			Bundle:         bundle,
			Classification: class,
			ConformalSet:   set,
			PValues:        pValues,
		})

		a.metrics.PosteriorClassTotal.WithLabelValues(string(class.MAPClass)).Inc()
		for _, entry := range class.Ledger.Entries {
			a.metrics.BayesFactorBucket.WithLabelValues(string(entry.Bucket)).Inc()
		}
		if bundle.Evidence.ChangePointKnown {
			a.metrics.ChangePointsTotal.Inc()
		}
	}

	if err := store.WriteRedactedStage(session.StageInfer, out, session.NewRedactor(a.redaction)); err != nil {
		return nil, fmt.Errorf("write infer stage: %w", err)
	}
	return out, nil
}

func runDecideStage(a *app, store *session.Store, infer *inferArtifact, wealth *decision.WealthStore, wealthKey string) ([]decision.CandidatePlan, error) {
	guardrail := buildGuardrail(a.policy)
	engine := decision.NewEngine(a.policy, guardrail, wealth, wealthKey)

	inputs := make([]decision.CandidateInput, 0, len(infer.Candidates))
	for _, c := range infer.Candidates {
		protected, kind := matchesProtected(c.Bundle.Sample.Comm, a.policy.Guardrails.ProtectedPatterns)
		if !protected {
			protected = c.Bundle.ProtectedProc
			kind = "pattern"
		}
		for _, uid := range a.policy.Guardrails.ProtectedUIDs {
			if c.Bundle.Sample.Identity.UID == uid {
				protected, kind = true, "uid"
			}
		}

		writeFDRisk := c.Bundle.Evidence.WriteFDPresent == inference.TriTrue && c.Bundle.Sample.CwdKind != collector.CwdTmp

		gate := decision.GateInput{
			CandidateID:             c.Classification.CandidateID,
			Comm:                    c.Bundle.Sample.Comm,
			Cwd:                     string(c.Bundle.Sample.CwdKind),
			ProtectedMatch:          protected,
			ProtectedKind:           kind,
			CrossUID:                c.Bundle.Sample.Identity.UID != os.Getuid(),
			WriteFDOutsideSafePaths: writeFDRisk,
			MAPClass:                c.Classification.MAPClass,
			MAPPosterior:            c.Classification.Posterior[c.Classification.MAPClass],
			ConformalSetSize:        len(c.ConformalSet),
		}

		inputs = append(inputs, decision.CandidateInput{
			Classification: c.Classification,
			Bundle:         c.Bundle,
			GateInput:      gate,
		})
	}

	plans, err := engine.Run(inputs)
	if err != nil {
		return nil, fmt.Errorf("decision engine: %w", err)
	}
	if len(plans) == 0 {
		return nil, triage.ErrNoCandidates
	}

	if err := store.WriteStage(session.StageDecide, plans); err != nil {
		return nil, fmt.Errorf("write decide stage: %w", err)
	}

	for _, p := range plans {
		a.metrics.ActionsPlannedTotal.WithLabelValues(string(p.PlannedAction)).Inc()
		for _, g := range p.GateLog {
			if g.Result == "blocked" {
				a.metrics.GateBlockedTotal.WithLabelValues(g.Gate).Inc()
			}
		}
	}
	if wealth != nil {
		if w, err := wealth.Get(wealthKey, 0); err == nil {
			a.metrics.FDRWealth.Set(w)
		}
	}
	return plans, nil
}

func runExecuteStage(ctx context.Context, a *app, store *session.Store, plans []decision.CandidatePlan, bootID string) ([]executor.StepOutcome, error) {
	reader, err := executor.NewProcfsReader("/proc", bootID)
	if err != nil {
		return nil, fmt.Errorf("%w: procfs reader: %v", triage.ErrCapabilityMissing, err)
	}

	recorder, err := store.OpenEventLog()
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer recorder.Close()

	ex := executor.New(reader, executor.NewSystemdController(), recorder)

	var allOutcomes []executor.StepOutcome
	var failed bool
	for _, plan := range plans {
		outcomes, err := ex.RunPlan(ctx, plan)
		if err != nil {
			a.log.Error("plan execution failed", zap.String("candidate_id", plan.CandidateID), zap.Error(err))
			failed = true
		}
		allOutcomes = append(allOutcomes, outcomes...)
	}

	if err := store.WriteStage(session.StageExecute, allOutcomes); err != nil {
		return nil, fmt.Errorf("write execute stage: %w", err)
	}

	for _, o := range allOutcomes {
		outcome := "ok"
		switch {
		case strings.HasPrefix(o.SkipReason, "identity_mismatch"):
			a.metrics.IdentityMismatchTotal.Inc()
			outcome = "identity_mismatch"
		case o.Skipped:
			outcome = "skipped"
		case o.DispatchError != "":
			outcome = "error"
		case o.Escalated:
			outcome = "escalated"
		}
		a.metrics.ExecStepsTotal.WithLabelValues(string(o.Step.Kind), outcome).Inc()
	}

	if failed {
		return allOutcomes, triage.ErrPartialExecution
	}
	return allOutcomes, nil
}

// toCollectorCapabilities narrows the spec §6 capability manifest down to
// the fields the collector gates deep-scan probes on. The manifest's
// schema_version has already been validated against
// config.SupportedCapabilitiesMajor by config.LoadCapabilities; the
// collector's own SchemaVersion field tags Snapshot/probe records with the
// build's internal schema, not the external manifest's.
func toCollectorCapabilities(c *config.Capabilities) collector.Capabilities {
	return collector.Capabilities{
		SchemaVersion:  collector.SchemaVersion,
		ProcReadable:   c.ProcReadable,
		PerfEBPF:       c.Permissions.EBPF,
		CgroupV2:       c.CgroupVersion == 2,
		SupervisorInfo: c.SupervisorInfo,
	}
}

// buildGuardrail applies the configured per-run and per-category
// destructive-action caps. The policy schema expresses the category cap
// as a single scalar applied uniformly (spec §3 "max_kills_per_category"),
// so it is broadcast here across every category the categorizer can
// produce rather than requiring the operator to enumerate each one.
func buildGuardrail(policy *config.PolicyConfig) *decision.Guardrail {
	perCategory := map[string]int{
		string(feature.CategoryTestRunner):    policy.Guardrails.MaxKillsPerCategory,
		string(feature.CategoryDevServer):     policy.Guardrails.MaxKillsPerCategory,
		string(feature.CategoryAgentShell):    policy.Guardrails.MaxKillsPerCategory,
		string(feature.CategoryEditor):        policy.Guardrails.MaxKillsPerCategory,
		string(feature.CategorySystemService): policy.Guardrails.MaxKillsPerCategory,
		string(feature.CategoryOther):         policy.Guardrails.MaxKillsPerCategory,
	}
	return decision.NewGuardrail(policy.Guardrails.MaxKillsPerRun, perCategory)
}

// matchesProtected reports whether comm contains any configured
// protected-pattern substring, mirroring the decision engine's own
// unexported gate check so the GateInput fed to it is self-consistent.
func matchesProtected(comm string, patterns []string) (bool, string) {
	for _, p := range patterns {
		if p != "" && strings.Contains(comm, p) {
			return true, p
		}
	}
	return false, ""
}
