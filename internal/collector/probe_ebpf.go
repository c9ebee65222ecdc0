package collector

import (
	"fmt"

	"github.com/cilium/ebpf"
	"go.uber.org/zap"
)

// PerfProbe reads a pre-pinned eBPF perf-counter map (run-queue latency,
// off-CPU time) as an optional deep-scan input. Unlike the teacher's LSM
// enforcement hook, this probe never attaches a program or gates kernel
// behavior; it only reads a map a privileged installer has already pinned
// (spec §4.1 "optional perf/eBPF counters when the capability manifest
// asserts them available").
type PerfProbe struct {
	log     *zap.Logger
	counters *ebpf.Map
}

// OpenPerfProbe loads the pinned map at pinPath. Any error here is
// non-fatal to the caller: the probe is simply unavailable and the deep
// scan proceeds without it (spec §4.1 "failure to probe never fails the
// scan").
func OpenPerfProbe(log *zap.Logger, pinPath string) (*PerfProbe, error) {
	m, err := ebpf.LoadPinnedMap(pinPath, nil)
	if err != nil {
		return nil, fmt.Errorf("collector.OpenPerfProbe: load pinned map %q: %w", pinPath, err)
	}
	return &PerfProbe{log: log, counters: m}, nil
}

// RunQueueLatencyNanos reads the accumulated scheduler run-queue latency
// counter for pid, if present in the map.
func (p *PerfProbe) RunQueueLatencyNanos(pid int) (uint64, bool) {
	if p == nil || p.counters == nil {
		return 0, false
	}
	key := uint32(pid)
	var value uint64
	if err := p.counters.Lookup(&key, &value); err != nil {
		return 0, false
	}
	return value, true
}

// Close releases the map handle. It does not unpin or remove the map;
// ownership of the pinned object remains with the privileged installer
// that created it.
func (p *PerfProbe) Close() error {
	if p == nil || p.counters == nil {
		return nil
	}
	return p.counters.Close()
}
