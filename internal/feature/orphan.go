package feature

import "github.com/proctriage/proctriage/internal/collector"

// OrphanResult is the orphan evaluation outcome with provenance (spec
// §4.2 "Orphan evaluation").
type OrphanResult struct {
	// Orphan is "true"/"false" when supervisor attribution succeeded, or
	// "unknown" when the capability-provided supervisor layer was
	// unavailable (spec §4.2: "conservatively reported as unknown").
	Orphan string
	// Known is false when supervisor attribution could not be queried at
	// all, as opposed to having queried and found no supervisor.
	Known bool
}

// EvaluateOrphan computes orphan status: PPID == 1 AND not attributed to
// a supervisor (spec §4.2). supervisorQueryAvailable reflects whether the
// capability manifest asserts supervisor attribution is queryable on this
// host; when false, orphan is conservatively "unknown" for any PPID==1
// candidate rather than assumed true.
func EvaluateOrphan(ppid int, supervisor *collector.Supervisor, supervisorQueryAvailable bool) OrphanResult {
	if ppid != 1 {
		return OrphanResult{Orphan: "false", Known: true}
	}
	if !supervisorQueryAvailable {
		return OrphanResult{Orphan: "unknown", Known: false}
	}
	if supervisor == nil || supervisor.None() {
		return OrphanResult{Orphan: "true", Known: true}
	}
	return OrphanResult{Orphan: "false", Known: true}
}
