package collector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/procfs"
)

// parseUIDs reads the real and effective uid from a process's status
// fields ("Uid:\treal\teffective\tsaved\tfs").
func parseUIDs(status procfs.ProcStatus) (uid, euid int) {
	if len(status.UIDs) >= 2 {
		r, _ := strconv.Atoi(status.UIDs[0])
		e, _ := strconv.Atoi(status.UIDs[1])
		return r, e
	}
	return -1, -1
}

// classifyCwd buckets a working directory path into the categories
// category matching and the data-loss gate reason on (spec §4.1, §4.2).
func classifyCwd(cwd string) CwdKind {
	switch {
	case strings.HasPrefix(cwd, "/tmp") || strings.HasPrefix(cwd, "/var/tmp"):
		return CwdTmp
	case strings.HasPrefix(cwd, "/home") || strings.HasPrefix(cwd, "/Users") || strings.HasPrefix(cwd, "/root"):
		return CwdHome
	case strings.HasPrefix(cwd, "/usr") || strings.HasPrefix(cwd, "/etc") || strings.HasPrefix(cwd, "/var/lib"):
		return CwdSystem
	case cwd != "":
		return CwdProject
	default:
		return CwdUnknown
	}
}

// countWriteFDs counts file descriptor targets that are regular files
// opened for writing, distinguishing write handles per spec §4.1. The
// procfs library does not expose open-mode directly, so a descriptor is
// conservatively counted as a write handle unless it targets a read-only
// pseudo-path (pipe, socket, anonymous inode) which cannot hold user data.
func countWriteFDs(targets map[string]string) int {
	n := 0
	for _, target := range targets {
		if strings.HasPrefix(target, "socket:") || strings.HasPrefix(target, "pipe:") ||
			strings.HasPrefix(target, "anon_inode:") {
			continue
		}
		n++
	}
	return n
}

// statExeIdentity stats the executable path to capture its inode+device
// identity (spec §3 "exe_inode+exe_dev").
func statExeIdentity(exe string) (inode, dev uint64, ok bool) {
	var st syscall.Stat_t
	if err := syscall.Stat(exe, &st); err != nil {
		return 0, 0, false
	}
	return st.Ino, uint64(st.Dev), true
}

// readBootID reads the kernel's boot identifier, unique per boot epoch
// (spec §3 "boot_id"). On Linux this is /proc/sys/kernel/random/boot_id;
// falls back to a boot-time-derived string on platforms without it.
func readBootID() (string, error) {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	// Platforms lacking boot_id (e.g. during tests against a synthetic
	// procfs root) still need a stable-within-run identifier.
	return "unknown-boot", nil
}

// clockTicksHz returns the kernel's USER_HZ clock tick rate, used to
// convert cumulative CPU ticks to seconds (spec §4.1 cpu_frac derivation).
// USER_HZ is 100 on every Linux architecture this collector targets;
// there is no portable non-cgo syscall to query it at runtime, so the
// constant is hard-coded rather than probed.
func clockTicksHz() int64 {
	return 100
}

// readCgroup reads a process's raw /proc/pid/cgroup content, returning ok
// = false when the process is gone or unreadable by the time the deep
// probe reaches it.
func readCgroup(pid int) (string, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// primaryCgroupPath extracts the deepest (last-listed) cgroup path entry,
// the one cgroup v2's unified hierarchy uses (spec §3 "cgroup_path").
func primaryCgroupPath(cgroup string) string {
	lines := strings.Split(strings.TrimSpace(cgroup), "\n")
	if len(lines) == 0 {
		return ""
	}
	last := lines[len(lines)-1]
	parts := strings.SplitN(last, ":", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return ""
}

// attributeSupervisor identifies a systemd unit, launchd label, or
// container id from a process's cgroup membership (spec §3 "supervisor
// attribution"). Returns nil when no supervisor is attributed.
func attributeSupervisor(cgroup string) *Supervisor {
	switch {
	case strings.Contains(cgroup, ".service"):
		return &Supervisor{SystemdUnit: extractUnit(cgroup)}
	case strings.Contains(cgroup, "docker") || strings.Contains(cgroup, "containerd"):
		return &Supervisor{ContainerID: extractContainerID(cgroup)}
	default:
		return nil
	}
}

func extractUnit(cgroup string) string {
	for _, line := range strings.Split(cgroup, "\n") {
		if idx := strings.Index(line, ".service"); idx != -1 {
			start := strings.LastIndexByte(line[:idx], '/')
			return line[start+1 : idx+len(".service")]
		}
	}
	return ""
}

func extractContainerID(cgroup string) string {
	for _, line := range strings.Split(cgroup, "\n") {
		parts := strings.Split(line, "/")
		last := parts[len(parts)-1]
		if len(last) == 64 {
			return last[:12]
		}
	}
	return ""
}
