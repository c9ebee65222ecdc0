package collector

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/proctriage/proctriage/internal/identity"
)

// selfNiceValue and selfIOPrioData are the collector's own scheduling and
// I/O priority targets when self-capping is permitted: best-effort CPU
// niceness and the lowest best-effort I/O priority, so a deep scan's
// procfs/tool-invocation fan-out never competes with the processes it is
// inspecting (spec §4.1 "Self-protection").
const selfNiceValue = 10
const selfIOPrioData = 7

// ioprioClassBE and ioprioWhoProcess mirror the kernel's linux/ioprio.h,
// which golang.org/x/sys/unix exposes only as the bare IOPRIO_SET/GET
// syscall numbers (no typed wrapper), so the class/who encoding is
// reproduced here the same way the teacher inlines raw syscall constants
// it has no typed wrapper for.
const ioprioClassBE = 2
const ioprioWhoProcess = 1
const ioprioClassShift = 13

// Capabilities is the subset of the capability manifest (spec §6) the
// collector consults directly: whether deep-scan probes are permitted and
// the eBPF perf-counter probe is available.
type Capabilities struct {
	SchemaVersion  int  `json:"schema_version"`
	ProcReadable   bool `json:"proc_readable"`
	PerfEBPF       bool `json:"perf_ebpf"`
	CgroupV2       bool `json:"cgroup_v2"`
	SupervisorInfo bool `json:"supervisor_info"`
}

// Options controls collector behavior (spec §4.1, §5).
type Options struct {
	// ConcurrencyCeiling bounds the deep-scan probe pool. Default
	// min(4, NumCPU) per spec §5.
	ConcurrencyCeiling int
	// ProbeTimeout bounds a single external tool invocation.
	ProbeTimeout time.Duration
	// ProbeByteCap bounds captured probe output.
	ProbeByteCap int
	// PerfPinPath is the path to a pre-pinned eBPF perf-counter map; empty
	// disables the probe.
	PerfPinPath string
	// SelfNice caps the collector's own CPU and I/O scheduling priority
	// when the capability manifest asserts self-renice is permitted
	// (spec §4.1 "Self-protection"). A failure to apply it is logged and
	// otherwise ignored: it is a best-effort budget cap, never a
	// correctness requirement.
	SelfNice bool
	// MinPosteriorForDeepScan gates which quick-scan candidates are
	// re-probed in the deep scan. The collector itself does not compute
	// posteriors; the caller (cmd/proctriage) supplies the candidate pid
	// set after a preliminary inference pass over the quick scan.
}

// Collector produces Snapshots. It is stateless across calls except for
// remembering its own pid/ppid chain for self-protection.
type Collector struct {
	log       *zap.Logger
	opts      Options
	selfPID   int
	fs        procfs.FS
	tools     *ToolRunner
	perfProbe *PerfProbe
}

// New constructs a Collector. fsPath is normally "/proc"; tests pass a
// synthetic procfs root. If opts.PerfPinPath is set, the optional eBPF
// perf-counter probe is opened eagerly; a failure to open it is logged and
// otherwise ignored (spec §4.1 "failure to probe never fails the scan"),
// since deep scans may run against hosts where the manifest's PerfEBPF
// capability turns out to be stale.
func New(log *zap.Logger, opts Options, fsPath string) (*Collector, error) {
	if opts.ConcurrencyCeiling <= 0 {
		opts.ConcurrencyCeiling = min(4, runtime.NumCPU())
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.ProbeByteCap <= 0 {
		opts.ProbeByteCap = 64 * 1024
	}

	fs, err := procfs.NewFS(fsPath)
	if err != nil {
		return nil, fmt.Errorf("collector.New: open procfs at %q: %w", fsPath, err)
	}

	if opts.SelfNice {
		capSelfPriority(log)
	}

	var perfProbe *PerfProbe
	if opts.PerfPinPath != "" {
		perfProbe, err = OpenPerfProbe(log, opts.PerfPinPath)
		if err != nil {
			log.Warn("perf probe unavailable", zap.String("pin_path", opts.PerfPinPath), zap.Error(err))
			perfProbe = nil
		}
	}

	return &Collector{
		log:       log,
		opts:      opts,
		selfPID:   os.Getpid(),
		fs:        fs,
		tools:     NewToolRunner(log, opts.ProbeTimeout, opts.ProbeByteCap),
		perfProbe: perfProbe,
	}, nil
}

// capSelfPriority renices the calling process's CPU scheduling priority
// and drops its I/O priority to the lowest best-effort class, so the
// collector's own procfs fan-out never competes for CPU/IO with the
// candidates it is scanning. Both calls are best-effort; a sandboxed
// host may deny even unprivileged self-renice, so failures are logged
// and otherwise ignored rather than failing the scan.
func capSelfPriority(log *zap.Logger) {
	pid := os.Getpid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, selfNiceValue); err != nil {
		log.Warn("self nice failed", zap.Error(err))
	}

	ioprio := (ioprioClassBE << ioprioClassShift) | selfIOPrioData
	if _, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, 0, uintptr(ioprio)); errno != 0 {
		log.Warn("self ionice failed", zap.Error(errno))
	}
}

// Close releases any resources the collector opened, notably the pinned
// eBPF perf-counter map.
func (c *Collector) Close() error {
	if c.perfProbe != nil {
		return c.perfProbe.Close()
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// QuickScan takes three samples 500ms apart of the full process table and
// returns a Snapshot with no per-process probes run between samples
// (spec §4.1).
func (c *Collector) QuickScan(ctx context.Context) (*Snapshot, error) {
	const sampleCount = 3
	const sampleGap = 500 * time.Millisecond

	host, err := c.hostContext()
	if err != nil {
		return nil, fmt.Errorf("collector.QuickScan: host context: %w", err)
	}

	series := make(map[int][]TickSample)
	var latest map[int]ProcessSample

	for i := 0; i < sampleCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		procs, err := c.fs.AllProcs()
		if err != nil {
			return nil, fmt.Errorf("collector.QuickScan: enumerate procs: %w", err)
		}

		now := time.Now()
		latest = make(map[int]ProcessSample, len(procs))
		for _, p := range procs {
			pid := p.PID
			if pid == c.selfPID {
				continue
			}
			sample, tick, ok := c.readQuickSample(p, host, now)
			if !ok {
				continue
			}
			latest[pid] = sample
			series[pid] = append(series[pid], tick)
		}

		if i < sampleCount-1 {
			select {
			case <-time.After(sampleGap):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	samples := make([]ProcessSample, 0, len(latest))
	for _, s := range latest {
		samples = append(samples, s)
	}

	return &Snapshot{
		SchemaVersion: SchemaVersion,
		Profile:       ScanQuick,
		Host:          host,
		Samples:       samples,
		SampleSeries:  series,
		TakenAt:       time.Now(),
	}, nil
}

// readQuickSample reads the process-table fields the quick scan needs for
// one process: pid, ppid, state, start-time-ticks, uid/euid, comm, rss,
// user/system ticks, working directory, cgroup, argv (spec §4.1).
func (c *Collector) readQuickSample(p procfs.Proc, host HostContext, now time.Time) (ProcessSample, TickSample, bool) {
	stat, err := p.Stat()
	if err != nil {
		return ProcessSample{}, TickSample{}, false
	}
	status, err := p.NewStatus()
	if err != nil {
		return ProcessSample{}, TickSample{}, false
	}

	uid, euid := parseUIDs(status)

	tuple := identity.Tuple{
		PID:            p.PID,
		StartTimeTicks: int64(stat.Starttime),
		BootID:         host.BootID,
		UID:            uid,
		EUID:           euid,
	}

	argv, _ := p.CmdLine()
	if len(argv) > 0 {
		tuple.CmdlineSHA256 = identity.HashCmdline(argv)
	}

	cwdKind := CwdUnknown
	if cwd, err := p.Cwd(); err == nil {
		cwdKind = classifyCwd(cwd)
	}

	sample := ProcessSample{
		Identity:       tuple,
		ObservedAt:     now,
		CPUUserTicks:   int64(stat.UTime),
		CPUSystemTicks: int64(stat.STime),
		RSSBytes:       int64(stat.RSS) * 4096,
		State:          ProcState(stat.State[0]),
		PPID:           stat.PPID,
		CwdKind:        cwdKind,
		Comm:           stat.Comm,
		Argv:           argv,
	}
	if stat.TTY != 0 {
		sample.TTY = strconv.Itoa(stat.TTY)
	}

	tick := TickSample{
		At:       now,
		UserTick: int64(stat.UTime),
		SysTick:  int64(stat.STime),
	}

	return sample, tick, true
}

// DeepScan augments the given candidate pids only, per spec §4.1: open
// file descriptors distinguishing write handles, socket table join,
// executable inode+device, supervisor attribution, and the optional
// eBPF perf-counter probe when capabilities assert availability.
func (c *Collector) DeepScan(ctx context.Context, quick *Snapshot, candidatePIDs []int, caps Capabilities) (*Snapshot, error) {
	deep := &Snapshot{
		SchemaVersion: SchemaVersion,
		Profile:       ScanDeep,
		Host:          quick.Host,
		SampleSeries:  quick.SampleSeries,
		TakenAt:       time.Now(),
	}

	byPID := make(map[int]ProcessSample, len(quick.Samples))
	for _, s := range quick.Samples {
		byPID[s.Identity.PID] = s
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ConcurrencyCeiling)

	results := make([]ProcessSample, len(candidatePIDs))
	for i, pid := range candidatePIDs {
		i, pid := i, pid
		g.Go(func() error {
			base, ok := byPID[pid]
			if !ok {
				return nil
			}
			probeCtx, cancel := context.WithTimeout(gctx, c.opts.ProbeTimeout)
			defer cancel()
			results[i] = c.deepProbe(probeCtx, base, caps)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collector.DeepScan: %w", err)
	}

	for _, s := range results {
		if s.Identity.PID != 0 {
			deep.Samples = append(deep.Samples, s)
		}
	}
	return deep, nil
}

// deepProbe augments a single candidate. Probe failures never fail the
// scan (spec §4.1); they leave the corresponding field nil, which feature
// derivation must surface as degraded provenance rather than zero.
func (c *Collector) deepProbe(ctx context.Context, s ProcessSample, caps Capabilities) ProcessSample {
	p, err := c.fs.Proc(s.Identity.PID)
	if err != nil {
		return s
	}

	if fds, err := p.FileDescriptorTargets(); err == nil {
		writeFDs := countWriteFDs(fds)
		s.OpenWriteFDs = &writeFDs
	} else {
		c.log.Warn("deep probe: fd enumeration failed", zap.Int("pid", s.Identity.PID), zap.Error(err))
	}

	if exe, err := p.Executable(); err == nil {
		if inode, dev, ok := statExeIdentity(exe); ok {
			s.Identity.ExeInode = inode
			s.Identity.ExeDev = dev
		}
	}

	if cgroup, ok := readCgroup(s.Identity.PID); ok {
		s.CgroupPath = primaryCgroupPath(cgroup)
		if caps.SupervisorInfo {
			s.Supervisor = attributeSupervisor(cgroup)
		}
	}

	if count, ok := c.tools.CountSockets(ctx, s.Identity.PID); ok {
		s.SocketCount = &count
	}

	if caps.PerfEBPF && c.perfProbe != nil {
		if latency, ok := c.perfProbe.RunQueueLatencyNanos(s.Identity.PID); ok {
			s.RunQueueLatencyNanos = &latency
		}
	}

	select {
	case <-ctx.Done():
	default:
	}

	return s
}

func (c *Collector) hostContext() (HostContext, error) {
	bootID, err := readBootID()
	if err != nil {
		return HostContext{}, err
	}

	var la load.AvgStat
	if l, err := load.Avg(); err == nil {
		la = *l
	}
	var mi mem.VirtualMemoryStat
	if m, err := mem.VirtualMemory(); err == nil {
		mi = *m
	}
	uptime, err := host.Uptime()
	var uptimeSeconds float64
	if err == nil {
		uptimeSeconds = float64(uptime)
	}

	return HostContext{
		BootID:        bootID,
		ClockTicksHz:  clockTicksHz(),
		CPUCount:      runtime.NumCPU(),
		LoadAvg1:      la.Load1,
		MemTotalBytes: int64(mi.Total),
		MemFreeBytes:  int64(mi.Free),
		UptimeSeconds: uptimeSeconds,
	}, nil
}
