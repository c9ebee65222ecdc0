package executor

import (
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/procfs"
)

// procStatusUIDs extracts real and effective uid from /proc/[pid]/status,
// mirroring internal/collector's probe_procfs.go parseUIDs.
func procStatusUIDs(status procfs.ProcStatus) (uid, euid int) {
	uids := status.UIDs
	if len(uids) >= 2 {
		if v, err := strconv.Atoi(strings.TrimSpace(uids[0])); err == nil {
			uid = v
		}
		if v, err := strconv.Atoi(strings.TrimSpace(uids[1])); err == nil {
			euid = v
		}
	}
	return uid, euid
}

// exeIdentity stats the resolved executable path for inode+device,
// mirroring internal/collector's probe_procfs.go statExeIdentity.
func exeIdentity(exe string) (inode, dev uint64, ok bool) {
	var st syscall.Stat_t
	if err := syscall.Stat(exe, &st); err != nil {
		return 0, 0, false
	}
	return st.Ino, uint64(st.Dev), true
}
