// Package identity implements the Process Identity Tuple: the canonical,
// TOCTOU-safe reference to a single process instance across its lifetime.
//
// A pid is reused by the kernel once its process exits; nothing about a
// bare pid survives that reuse. Every field below is chosen because it is
// either assigned once at process creation (start_time_ticks, boot_id) or
// cheap to re-read and compare byte-for-byte immediately before an action
// is dispatched (golang.org/x/sys/unix.Kill(pid, 0) and /proc/[pid]/stat).
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Tuple is the canonical reference to a process instance. See spec §3.
type Tuple struct {
	PID            int    `json:"pid"`
	StartTimeTicks int64  `json:"start_time_ticks"`
	BootID         string `json:"boot_id"`
	UID            int    `json:"uid"`
	EUID           int    `json:"euid"`

	// Optional fields, present only when the deep scan captured them.
	ExeInode      uint64 `json:"exe_inode,omitempty"`
	ExeDev        uint64 `json:"exe_dev,omitempty"`
	CmdlineSHA256 string `json:"cmdline_sha256,omitempty"`
}

// StartID returns the derived "<boot_id>:<start_time_ticks>:<pid>" key that
// uniquely identifies this process instance within a boot epoch and never
// matches across a reboot, by construction (spec §3, §6).
func (t Tuple) StartID() string {
	return fmt.Sprintf("%s:%d:%d", t.BootID, t.StartTimeTicks, t.PID)
}

// HasExeIdentity reports whether the executable inode/device pair was
// captured (only true after a deep scan).
func (t Tuple) HasExeIdentity() bool {
	return t.ExeInode != 0 || t.ExeDev != 0
}

// Same performs the byte-for-byte comparison required before any dispatch
// step (spec §4.5 step 1). It compares only the fields both tuples have
// populated; an optional field present in one and absent in the other is
// not compared, since absence means "not captured," not "zero."
func Same(plan, observed Tuple) bool {
	if plan.PID != observed.PID ||
		plan.StartTimeTicks != observed.StartTimeTicks ||
		plan.BootID != observed.BootID ||
		plan.UID != observed.UID ||
		plan.EUID != observed.EUID {
		return false
	}
	if plan.HasExeIdentity() && observed.HasExeIdentity() {
		if plan.ExeInode != observed.ExeInode || plan.ExeDev != observed.ExeDev {
			return false
		}
	}
	if plan.CmdlineSHA256 != "" && observed.CmdlineSHA256 != "" {
		if plan.CmdlineSHA256 != observed.CmdlineSHA256 {
			return false
		}
	}
	return true
}

// Mismatches returns the names of fields that differ between plan and
// observed, for the identity_observed diagnostic object (spec §4.5).
func Mismatches(plan, observed Tuple) []string {
	var out []string
	if plan.PID != observed.PID {
		out = append(out, "pid")
	}
	if plan.StartTimeTicks != observed.StartTimeTicks {
		out = append(out, "start_time_ticks")
	}
	if plan.BootID != observed.BootID {
		out = append(out, "boot_id")
	}
	if plan.UID != observed.UID {
		out = append(out, "uid")
	}
	if plan.EUID != observed.EUID {
		out = append(out, "euid")
	}
	if plan.HasExeIdentity() && observed.HasExeIdentity() &&
		(plan.ExeInode != observed.ExeInode || plan.ExeDev != observed.ExeDev) {
		out = append(out, "exe_identity")
	}
	if plan.CmdlineSHA256 != "" && observed.CmdlineSHA256 != "" && plan.CmdlineSHA256 != observed.CmdlineSHA256 {
		out = append(out, "cmdline_sha256")
	}
	return out
}

// HashCmdline computes the cmdline_sha256 field from a raw argv slice,
// joined with NUL the way /proc/[pid]/cmdline stores it.
func HashCmdline(argv []string) string {
	sum := sha256.Sum256([]byte(strings.Join(argv, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Alive reports whether a process with the given pid currently exists,
// using the null-signal liveness probe (kill(pid, 0)); it does not
// validate identity, only presence. ESRCH means absent; EPERM means
// present but unreachable (still "alive" for planning purposes).
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
