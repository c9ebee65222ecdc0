package executor

import (
	"github.com/proctriage/proctriage/internal/identity"
)

// ProcessReader re-reads live process state for the revalidation step.
// Production uses procfs; tests use a fake double (spec §4.5 step 1).
type ProcessReader interface {
	// ReadIdentity returns the current identity tuple for pid, or
	// (Tuple{}, false) if the process is no longer present.
	ReadIdentity(pid int) (identity.Tuple, bool)
	// State returns the current kernel process state character (e.g.
	// 'R', 'S', 'T', 'Z'), or 0 if the process is absent.
	State(pid int) byte
}

// RevalidateResult is the outcome of step 1 (spec §4.5).
type RevalidateResult struct {
	OK        bool
	NotRunning bool
	Mismatches []string
	Observed   identity.Tuple
}

// Revalidate re-reads the identity tuple for the planned pid and compares
// it byte-for-byte against the plan's captured identity (spec §4.5 step
// 1). An absent process is reported as not_running, not a mismatch.
func Revalidate(reader ProcessReader, planned identity.Tuple) RevalidateResult {
	observed, present := reader.ReadIdentity(planned.PID)
	if !present {
		return RevalidateResult{NotRunning: true}
	}

	mismatches := identity.Mismatches(planned, observed)
	if len(mismatches) > 0 {
		return RevalidateResult{Mismatches: mismatches, Observed: observed}
	}
	return RevalidateResult{OK: true, Observed: observed}
}
