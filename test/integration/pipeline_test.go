// Package integration_test exercises the full scan -> infer -> decide ->
// execute pipeline against synthetic fixtures, plus the session resume
// path, without touching a live host process table.
package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/proctriage/proctriage/internal/collector"
	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/decision"
	"github.com/proctriage/proctriage/internal/executor"
	"github.com/proctriage/proctriage/internal/feature"
	"github.com/proctriage/proctriage/internal/identity"
	"github.com/proctriage/proctriage/internal/inference"
	"github.com/proctriage/proctriage/internal/session"
)

// fakeReader answers identity revalidation from a fixed table, standing
// in for a live /proc read during the execute stage.
type fakeReader struct {
	alive map[int]identity.Tuple
}

func (r *fakeReader) ReadIdentity(pid int) (identity.Tuple, bool) {
	t, ok := r.alive[pid]
	return t, ok
}

func (r *fakeReader) State(pid int) byte {
	if _, ok := r.alive[pid]; ok {
		return collector.StateSleeping
	}
	return 0
}

// fakeSupervisor records every call it receives; every dispatch succeeds.
type fakeSupervisor struct {
	stopped []string
}

func (s *fakeSupervisor) Stop(ctx context.Context, unit string) error {
	s.stopped = append(s.stopped, unit)
	return nil
}

func orphanJestWorkerSnapshot() *collector.Snapshot {
	host := collector.HostContext{
		BootID:        "test-boot-0001",
		ClockTicksHz:  100,
		CPUCount:      8,
		UptimeSeconds: 1_000_000,
	}
	sample := collector.ProcessSample{
		Identity: identity.Tuple{PID: 4242, StartTimeTicks: 91_000_000, BootID: host.BootID, UID: 1000, EUID: 1000},
		Comm:     "node",
		Argv:     []string{"node", "jest-worker", "--worker"},
		CwdKind:  collector.CwdProject,
		State:    collector.StateSleeping,
		PPID:     1,
	}
	series := map[int][]collector.TickSample{
		4242: {
			{At: time.Unix(0, 0), UserTick: 1000},
			{At: time.Unix(0, 500_000_000), UserTick: 1000},
			{At: time.Unix(1, 0), UserTick: 1000},
		},
	}
	snap := &collector.Snapshot{
		SchemaVersion: collector.SchemaVersion,
		Profile:       collector.ScanQuick,
		Host:          host,
		Samples:       []collector.ProcessSample{sample},
		TakenAt:       time.Unix(0, 0),
	}
	snap.SampleSeries = series
	return snap
}

// runInferAndDecide mirrors cmd/proctriage's pipeline stages closely
// enough to exercise the same feature/inference/decision wiring without
// pulling in the CLI package itself.
func runInferAndDecide(t *testing.T, snap *collector.Snapshot, policy *config.PolicyConfig, wealth *decision.WealthStore) []decision.CandidatePlan {
	t.Helper()

	priors := config.DefaultPriorsConfig()
	deriver := feature.NewDeriver(feature.DefaultSignatures(), policy.Guardrails.ProtectedPatterns, false)
	engine := inference.NewEngine(priors)

	var inputs []decision.CandidateInput
	for _, sample := range snap.Samples {
		series := snap.SampleSeries[sample.Identity.PID]
		bundle := deriver.Derive(sample, series, snap.Host)

		effectivePriors := feature.ResolvePriors(priors, bundle.SignatureMatch)
		class, err := engine.Classify(bundle.Evidence, effectivePriors)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}

		gate := decision.GateInput{
			CandidateID:      class.CandidateID,
			Comm:             sample.Comm,
			Cwd:              string(sample.CwdKind),
			ProtectedMatch:   bundle.ProtectedProc,
			MAPClass:         class.MAPClass,
			MAPPosterior:     class.Posterior[class.MAPClass],
			ConformalSetSize: len(inference.Classes),
		}

		inputs = append(inputs, decision.CandidateInput{
			Classification: class,
			Bundle:         bundle,
			GateInput:      gate,
		})
	}

	guardrail := decision.NewGuardrail(policy.Guardrails.MaxKillsPerRun, map[string]int{
		string(feature.CategoryTestRunner): policy.Guardrails.MaxKillsPerCategory,
		string(feature.CategoryOther):      policy.Guardrails.MaxKillsPerCategory,
	})
	decisionEngine := decision.NewEngine(policy, guardrail, wealth, "integration-test")
	plans, err := decisionEngine.Run(inputs)
	if err != nil {
		t.Fatalf("decision run: %v", err)
	}
	return plans
}

func TestPipeline_ScanInferDecideExecute(t *testing.T) {
	root := t.TempDir()
	store, err := session.Create(root, string(collector.ScanQuick))
	if err != nil {
		t.Fatalf("session.Create: %v", err)
	}

	snap := orphanJestWorkerSnapshot()
	if err := store.WriteStage(session.StageScan, snap); err != nil {
		t.Fatalf("write scan stage: %v", err)
	}

	policy := config.DefaultPolicyConfig()

	wealthPath := root + "/wealth.bolt"
	wealth, err := decision.OpenWealthStore(wealthPath)
	if err != nil {
		t.Fatalf("open wealth store: %v", err)
	}
	defer wealth.Close()

	plans := runInferAndDecide(t, snap, policy, wealth)
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	if err := store.WriteStage(session.StageDecide, plans); err != nil {
		t.Fatalf("write decide stage: %v", err)
	}

	plan := plans[0]
	if len(plan.Steps) == 0 {
		t.Fatalf("expected plan to carry at least one step, got none (action=%s, skip=%q)", plan.PlannedAction, plan.SkipReason)
	}

	reader := &fakeReader{alive: map[int]identity.Tuple{
		plan.Identity.PID: plan.Identity,
	}}
	recorder, err := store.OpenEventLog()
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}

	ex := executor.New(reader, &fakeSupervisor{}, recorder)
	outcomes, err := ex.RunPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("run plan: %v", err)
	}
	if len(outcomes) != len(plan.Steps) && len(outcomes) == 0 {
		t.Fatalf("expected at least one outcome, got 0")
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	if err := store.WriteStage(session.StageExecute, outcomes); err != nil {
		t.Fatalf("write execute stage: %v", err)
	}

	broken, err := store.VerifyEventChain()
	if err != nil {
		t.Fatalf("verify event chain: %v", err)
	}
	if broken != -1 {
		t.Fatalf("expected an unbroken event chain, first break at index %d", broken)
	}
}

func TestSession_ResumeFromHighestCompletedStage(t *testing.T) {
	root := t.TempDir()
	store, err := session.Create(root, string(collector.ScanQuick))
	if err != nil {
		t.Fatalf("session.Create: %v", err)
	}

	snap := orphanJestWorkerSnapshot()
	if err := store.WriteStage(session.StageScan, snap); err != nil {
		t.Fatalf("write scan stage: %v", err)
	}

	reopened, err := session.Open(store.Dir())
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}

	highest, ok := reopened.HighestCompletedStage()
	if !ok || highest != session.StageScan {
		t.Fatalf("expected highest completed stage to be scan, got %v (ok=%v)", highest, ok)
	}

	next, more := session.NextStage(highest)
	if !more || next != session.StageInfer {
		t.Fatalf("expected next stage to be infer, got %v (more=%v)", next, more)
	}

	policy := config.DefaultPolicyConfig()
	wealth, err := decision.OpenWealthStore(root + "/wealth.bolt")
	if err != nil {
		t.Fatalf("open wealth store: %v", err)
	}
	defer wealth.Close()

	var resumedSnap collector.Snapshot
	if err := reopened.ReadStage(session.StageScan, &resumedSnap); err != nil {
		t.Fatalf("read scan stage: %v", err)
	}

	plans := runInferAndDecide(t, &resumedSnap, policy, wealth)
	if err := reopened.WriteStage(session.StageInfer, "placeholder"); err != nil {
		t.Fatalf("write infer stage: %v", err)
	}
	if err := reopened.WriteStage(session.StageDecide, plans); err != nil {
		t.Fatalf("write decide stage: %v", err)
	}

	if !reopened.StageComplete(session.StageDecide) {
		t.Fatalf("expected decide stage to be marked complete after write")
	}

	names, err := session.ListSessions(root)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected 1 session listed, got %d", len(names))
	}
}
