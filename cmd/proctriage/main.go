// Command proctriage is the Process Triage CLI: a staged, resumable
// pipeline (scan -> infer -> decide -> execute) over one host's process
// table, replacing the teacher's resident daemon with a one-shot or
// cron-driven invocation per spec §4.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/proctriage/proctriage/internal/triage"
)

func main() {
	root := newRootCmd()
	err := root.Execute()
	os.Exit(triage.ExitCode(unwrapCobra(err)))
}

// unwrapCobra passes through errors already carrying a triage sentinel;
// cobra's own usage errors (unknown flag, bad arg count) are reported as
// ErrInvalidArgs regardless of their original type.
func unwrapCobra(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		triage.ErrInvalidArgs, triage.ErrCapabilityMissing, triage.ErrPermissionDenied,
		triage.ErrSchemaVersion, triage.ErrNoCandidates, triage.ErrUserCancelled,
		triage.ErrGateBlocked, triage.ErrPartialExecution, triage.ErrLockBusy,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", triage.ErrInvalidArgs, err)
}

type globalFlags struct {
	agentConfigPath  string
	capabilitiesPath string
	priorsPath       string
	policyPath       string
	redactionPath    string
	signaturesPath   string
	sessionRoot      string
	profile          string
	nonInteractive   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "proctriage",
		Short:         "Bayesian triage for abandoned and runaway developer processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.agentConfigPath, "config", "", "agent config YAML path (defaults built in if empty)")
	pf.StringVar(&flags.capabilitiesPath, "capabilities", "", "capability manifest JSON path (defaults built in if empty)")
	pf.StringVar(&flags.priorsPath, "priors", "", "priors config JSON path (defaults built in if empty)")
	pf.StringVar(&flags.policyPath, "policy", "", "policy config JSON path (defaults built in if empty)")
	pf.StringVar(&flags.redactionPath, "redaction", "", "redaction policy JSON path (defaults built in if empty)")
	pf.StringVar(&flags.signaturesPath, "signatures", "", "signature table JSON path (defaults built in if empty)")
	pf.StringVar(&flags.sessionRoot, "session-root", "", "override the session storage root directory")
	pf.StringVar(&flags.profile, "profile", "quick", "scan profile: quick or deep")
	pf.BoolVar(&flags.nonInteractive, "non-interactive", false, "fail fast on lock contention instead of waiting")

	root.AddCommand(
		newScanCmd(flags),
		newInferCmd(flags),
		newDecideCmd(flags),
		newExecuteCmd(flags),
		newRunCmd(flags),
		newResumeCmd(flags),
		newSessionsCmd(flags),
		newServeMetricsCmd(flags),
	)
	return root
}
