package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/proctriage/proctriage/internal/decision"
	"github.com/proctriage/proctriage/internal/executor"
	"github.com/proctriage/proctriage/internal/session"
	"github.com/proctriage/proctriage/internal/triage"
)

// flushMetrics snapshots a's metrics registry to a textfile inside the
// session directory when metrics collection is enabled, for a
// node_exporter-style textfile collector to pick up after the one-shot CLI
// invocation exits. Failures are logged, not fatal: a missed metrics
// snapshot should never fail a triage run.
func flushMetrics(a *app, store *session.Store) {
	if !a.agentCfg.Metrics.Enabled {
		return
	}
	path := filepath.Join(store.Dir(), "metrics.prom")
	if err := a.metrics.WriteTextfile(path); err != nil {
		a.log.Warn("write metrics textfile", zap.Error(err))
	}
}

func interruptibleContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// lockMode labels the lock payload with how this invocation would behave
// on contention, so `sessions`-adjacent tooling inspecting a busy lock's
// holder can tell a human waiting at a terminal from an unattended cron
// invocation that would have failed fast instead.
func lockMode(flags *globalFlags) string {
	if flags.nonInteractive {
		return "non_interactive"
	}
	return "interactive"
}

func newScanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Take a new session and record the scan stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := interruptibleContext()
			defer cancel()

			store, err := session.Create(a.agentCfg.Session.RootDir, flags.profile)
			if err != nil {
				return err
			}
			artifact, err := runScanStage(ctx, a, store, flags.profile)
			if err != nil {
				return err
			}
			fmt.Printf("session %s: scanned %d processes\n", store.Dir(), len(artifact.Snapshot.Samples))
			flushMetrics(a, store)
			return nil
		},
	}
}

func newInferCmd(flags *globalFlags) *cobra.Command {
	var sessionDir string
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run feature derivation and classification against a scanned session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			store, err := session.Open(sessionDir)
			if err != nil {
				return fmt.Errorf("%w: %v", triage.ErrSessionNotFound, err)
			}

			var scan scanArtifact
			if err := store.ReadStage(session.StageScan, &scan); err != nil {
				return fmt.Errorf("%w: %v", triage.ErrStageOutOfOrder, err)
			}

			infer, err := runInferStage(a, store, &scan)
			if err != nil {
				return err
			}
			fmt.Printf("session %s: classified %d candidates\n", store.Dir(), len(infer.Candidates))
			flushMetrics(a, store)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session", "", "session directory to operate on")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newDecideCmd(flags *globalFlags) *cobra.Command {
	var sessionDir, wealthPath string
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Evaluate gates and select actions against an inferred session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			store, err := session.Open(sessionDir)
			if err != nil {
				return fmt.Errorf("%w: %v", triage.ErrSessionNotFound, err)
			}

			var infer inferArtifact
			if err := store.ReadStage(session.StageInfer, &infer); err != nil {
				return fmt.Errorf("%w: %v", triage.ErrStageOutOfOrder, err)
			}

			wealth, wealthKey, err := openWealthStore(a, wealthPath)
			if err != nil {
				return err
			}
			defer wealth.Close()

			plans, err := runDecideStage(a, store, &infer, wealth, wealthKey)
			if err != nil {
				return err
			}
			fmt.Printf("session %s: planned %d candidates\n", store.Dir(), len(plans))
			flushMetrics(a, store)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session", "", "session directory to operate on")
	cmd.Flags().StringVar(&wealthPath, "wealth-db", "", "alpha-investing wealth database path")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newExecuteCmd(flags *globalFlags) *cobra.Command {
	var sessionDir string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Dispatch and verify the staged plan for a decided session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			store, err := session.Open(sessionDir)
			if err != nil {
				return fmt.Errorf("%w: %v", triage.ErrSessionNotFound, err)
			}

			var plans []decision.CandidatePlan
			if err := store.ReadStage(session.StageDecide, &plans); err != nil {
				return fmt.Errorf("%w: %v", triage.ErrStageOutOfOrder, err)
			}

			lockPath := filepath.Join(a.agentCfg.Session.RootDir, ".proctriage.lock")
			lock, err := executor.AcquireLock(lockPath, !flags.nonInteractive,
				filepath.Base(store.Dir()), lockMode(flags), a.agentCfg.Session.LockExpiry)
			if err != nil {
				return fmt.Errorf("%w: %v", triage.ErrLockBusy, err)
			}
			defer lock.Release()

			ctx, cancel := interruptibleContext()
			defer cancel()

			bootID := ""
			if len(plans) > 0 {
				bootID = plans[0].Identity.BootID
			}

			outcomes, err := runExecuteStage(ctx, a, store, plans, bootID)
			if err != nil {
				return err
			}
			fmt.Printf("session %s: executed %d steps\n", store.Dir(), len(outcomes))
			flushMetrics(a, store)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session", "", "session directory to operate on")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var wealthPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full scan -> infer -> decide -> execute pipeline in one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			store, err := session.Create(a.agentCfg.Session.RootDir, flags.profile)
			if err != nil {
				return err
			}

			lockPath := filepath.Join(a.agentCfg.Session.RootDir, ".proctriage.lock")
			lock, err := executor.AcquireLock(lockPath, !flags.nonInteractive,
				filepath.Base(store.Dir()), lockMode(flags), a.agentCfg.Session.LockExpiry)
			if err != nil {
				return fmt.Errorf("%w: %v", triage.ErrLockBusy, err)
			}
			defer lock.Release()

			ctx, cancel := interruptibleContext()
			defer cancel()

			scan, err := runScanStage(ctx, a, store, flags.profile)
			if err != nil {
				return err
			}
			infer, err := runInferStage(a, store, scan)
			if err != nil {
				return err
			}

			wealth, wealthKey, err := openWealthStore(a, wealthPath)
			if err != nil {
				return err
			}
			defer wealth.Close()

			plans, err := runDecideStage(a, store, infer, wealth, wealthKey)
			if err != nil {
				return err
			}

			bootID := scan.Snapshot.Host.BootID
			outcomes, err := runExecuteStage(ctx, a, store, plans, bootID)
			fmt.Printf("session %s: %d candidates, %d steps\n", store.Dir(), len(plans), len(outcomes))
			flushMetrics(a, store)
			return err
		},
	}
	cmd.Flags().StringVar(&wealthPath, "wealth-db", "", "alpha-investing wealth database path")
	return cmd
}

func newResumeCmd(flags *globalFlags) *cobra.Command {
	var sessionDir, wealthPath string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue an interrupted session from its highest completed stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			store, err := session.Open(sessionDir)
			if err != nil {
				return fmt.Errorf("%w: %v", triage.ErrSessionNotFound, err)
			}

			ctx, cancel := interruptibleContext()
			defer cancel()

			highest, ok := store.HighestCompletedStage()
			if !ok {
				return fmt.Errorf("%w: session %s has no completed stages", triage.ErrStageOutOfOrder, sessionDir)
			}

			var scan scanArtifact
			if err := store.ReadStage(session.StageScan, &scan); err != nil {
				return fmt.Errorf("%w: %v", triage.ErrStageOutOfOrder, err)
			}

			var infer inferArtifact
			haveInfer := store.StageComplete(session.StageInfer)
			if haveInfer {
				if err := store.ReadStage(session.StageInfer, &infer); err != nil {
					return fmt.Errorf("%w: %v", triage.ErrStageOutOfOrder, err)
				}
			}

			wealth, wealthKey, err := openWealthStore(a, wealthPath)
			if err != nil {
				return err
			}
			defer wealth.Close()

			var plans []decision.CandidatePlan
			havePlans := store.StageComplete(session.StageDecide)
			if havePlans {
				if err := store.ReadStage(session.StageDecide, &plans); err != nil {
					return fmt.Errorf("%w: %v", triage.ErrStageOutOfOrder, err)
				}
			}

			next, more := session.NextStage(highest)
			for more {
				switch next {
				case session.StageInfer:
					r, err := runInferStage(a, store, &scan)
					if err != nil {
						return err
					}
					infer = *r
				case session.StageDecide:
					r, err := runDecideStage(a, store, &infer, wealth, wealthKey)
					if err != nil {
						return err
					}
					plans = r
				case session.StageExecute:
					bootID := scan.Snapshot.Host.BootID
					if _, err := runExecuteStage(ctx, a, store, plans, bootID); err != nil {
						return err
					}
				}
				next, more = session.NextStage(next)
			}

			fmt.Printf("session %s: resumed to completion\n", store.Dir())
			flushMetrics(a, store)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session", "", "session directory to resume")
	cmd.Flags().StringVar(&wealthPath, "wealth-db", "", "alpha-investing wealth database path")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newSessionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			names, err := session.ListSessions(a.agentCfg.Session.RootDir)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func newServeMetricsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics for a long-lived cron/sidecar deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := interruptibleContext()
			defer cancel()

			a.log.Info("serving metrics", zap.String("addr", a.agentCfg.Metrics.Addr))
			return a.metrics.Serve(ctx, a.agentCfg.Metrics.Addr)
		},
	}
}

func openWealthStore(a *app, path string) (*decision.WealthStore, string, error) {
	if path == "" {
		path = filepath.Join(a.agentCfg.Session.RootDir, "wealth.bolt")
	}
	store, err := decision.OpenWealthStore(path)
	if err != nil {
		return nil, "", err
	}
	return store, "default", nil
}
