package executor

import (
	"github.com/prometheus/procfs"

	"github.com/proctriage/proctriage/internal/identity"
)

// procfsReader is the production ProcessReader, re-reading /proc
// immediately before each dispatch step (spec §4.5 step 1).
type procfsReader struct {
	fs     procfs.FS
	bootID string
}

// NewProcfsReader builds a ProcessReader backed by procfs at fsPath
// (normally "/proc"). bootID is the boot identifier captured in the
// original plan's identity tuples, reused here since it cannot change
// without an intervening reboot that the executor would also observe.
func NewProcfsReader(fsPath, bootID string) (ProcessReader, error) {
	fs, err := procfs.NewFS(fsPath)
	if err != nil {
		return nil, err
	}
	return &procfsReader{fs: fs, bootID: bootID}, nil
}

func (r *procfsReader) ReadIdentity(pid int) (identity.Tuple, bool) {
	p, err := r.fs.Proc(pid)
	if err != nil {
		return identity.Tuple{}, false
	}
	stat, err := p.Stat()
	if err != nil {
		return identity.Tuple{}, false
	}
	status, err := p.NewStatus()
	if err != nil {
		return identity.Tuple{}, false
	}
	uid, euid := procStatusUIDs(status)

	t := identity.Tuple{
		PID:            pid,
		StartTimeTicks: int64(stat.Starttime),
		BootID:         r.bootID,
		UID:            uid,
		EUID:           euid,
	}
	if argv, err := p.CmdLine(); err == nil && len(argv) > 0 {
		t.CmdlineSHA256 = identity.HashCmdline(argv)
	}
	if exe, err := p.Executable(); err == nil {
		if inode, dev, ok := exeIdentity(exe); ok {
			t.ExeInode = inode
			t.ExeDev = dev
		}
	}
	return t, true
}

func (r *procfsReader) State(pid int) byte {
	p, err := r.fs.Proc(pid)
	if err != nil {
		return 0
	}
	stat, err := p.Stat()
	if err != nil {
		return 0
	}
	if len(stat.State) == 0 {
		return 0
	}
	return stat.State[0]
}
