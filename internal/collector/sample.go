// Package collector produces reproducible, bounded snapshots of process
// state (spec §4.1). It never classifies or decides; it only observes.
package collector

import (
	"time"

	"github.com/proctriage/proctriage/internal/identity"
)

// ProcState is the single-character kernel process state flag.
type ProcState byte

const (
	StateRunning  ProcState = 'R'
	StateSleeping ProcState = 'S'
	StateDiskWait ProcState = 'D'
	StateZombie   ProcState = 'Z'
	StateStopped  ProcState = 'T'
)

// CwdKind buckets a working directory for categorization and the
// data-loss gate.
type CwdKind string

const (
	CwdHome    CwdKind = "home"
	CwdTmp     CwdKind = "tmp"
	CwdSystem  CwdKind = "system"
	CwdProject CwdKind = "project"
	CwdUnknown CwdKind = "unknown"
)

// Supervisor identifies the process supervisor attribution, if any.
type Supervisor struct {
	SystemdUnit   string `json:"systemd_unit,omitempty"`
	LaunchdLabel  string `json:"launchd_label,omitempty"`
	ContainerID   string `json:"container_id,omitempty"`
}

// None reports whether no supervisor attribution was found.
func (s Supervisor) None() bool {
	return s.SystemdUnit == "" && s.LaunchdLabel == "" && s.ContainerID == ""
}

// ProcessSample is a single point-in-time observation of one process
// (spec §3, "Process Sample").
type ProcessSample struct {
	Identity identity.Tuple `json:"identity"`

	ObservedAt time.Time `json:"observed_at"`

	CPUUserTicks   int64     `json:"cpu_user_ticks"`
	CPUSystemTicks int64     `json:"cpu_system_ticks"`
	RSSBytes       int64     `json:"rss_bytes"`
	State          ProcState `json:"state"`
	PPID           int       `json:"ppid"`

	// TTY is empty when the process has no controlling terminal.
	TTY string `json:"tty,omitempty"`

	CwdKind CwdKind `json:"cwd_kind"`

	// Deep-scan-only fields. Zero value means "not probed," not "zero."
	OpenWriteFDs  *int        `json:"open_write_fds,omitempty"`
	SocketCount   *int        `json:"socket_count,omitempty"`
	CgroupPath    string      `json:"cgroup_path,omitempty"`
	Supervisor    *Supervisor `json:"supervisor,omitempty"`

	// RunQueueLatencyNanos is the scheduler run-queue latency counter read
	// from the optional pinned eBPF perf-counter map, when the capability
	// manifest asserts PerfEBPF and the collector was configured with a
	// pin path. Nil means the probe was unavailable, not zero latency.
	RunQueueLatencyNanos *uint64 `json:"run_queue_latency_ns,omitempty"`

	// Comm and Argv feed signature matching; redacted only at persistence
	// (spec §3 Redaction Policy), never in the in-core pipeline.
	Comm string   `json:"comm"`
	Argv []string `json:"argv,omitempty"`
}

// HostContext captures the host-level facts a Snapshot is taken against.
type HostContext struct {
	BootID         string  `json:"boot_id"`
	ClockTicksHz   int64   `json:"clock_ticks_hz"`
	CPUCount       int     `json:"cpu_count"`
	LoadAvg1       float64 `json:"load_avg_1"`
	MemTotalBytes  int64   `json:"mem_total_bytes"`
	MemFreeBytes   int64   `json:"mem_free_bytes"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// ScanProfile selects the collection depth (spec §4.1).
type ScanProfile string

const (
	ScanQuick ScanProfile = "quick"
	ScanDeep  ScanProfile = "deep"
)

// Snapshot is the Collector's sole output: a bounded, reproducible set of
// process samples plus host context.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	Profile       ScanProfile     `json:"scan_profile"`
	Host          HostContext     `json:"host"`
	Samples       []ProcessSample `json:"samples"`
	// SampleSeries holds, per pid, the raw tick-delta series across the
	// quick scan's three observations, consumed by CPUFraction below.
	SampleSeries map[int][]TickSample `json:"-"`
	TakenAt      time.Time            `json:"taken_at"`
}

// TickSample is one of the quick scan's repeated observations of a single
// process's cumulative CPU ticks, used to derive cpu_frac and n_eff.
type TickSample struct {
	At       time.Time
	UserTick int64
	SysTick  int64
}

const SchemaVersion = 1
