// Package executor dispatches an approved plan with TOCTOU safety, a
// per-host exclusive lock, and verifiable per-step outcomes (spec §4.5).
package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultLockExpiry is the lock's default time-to-live before it counts
// as stale even if its holder process is still alive (spec §3 "Lock"
// "expiry time (default 10 min, extendable)").
const DefaultLockExpiry = 10 * time.Minute

// LockInfo is the lock file's persisted payload (spec §3 "Lock": "holder
// process identity, session id, acquisition time, expiry time, mode
// label").
type LockInfo struct {
	HolderPID  int       `json:"holder_pid"`
	SessionID  string    `json:"session_id,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Mode       string    `json:"mode,omitempty"`
}

// Lock is an exclusive advisory file lock held for the duration of one
// executor run, acquired at a per-user path before any step runs (spec
// §4.5 "Lock").
type Lock struct {
	f    *os.File
	path string
	info LockInfo
}

// Info returns the payload this lock was acquired (or last extended)
// with.
func (l *Lock) Info() LockInfo { return l.info }

// ErrLockBusy is returned by AcquireLock when another holder has the
// lock, wait is false, and that holder is not stale.
type ErrLockBusy struct {
	Path   string
	Holder LockInfo
	Known  bool
}

func (e *ErrLockBusy) Error() string {
	if e.Known {
		return fmt.Sprintf("executor: lock %q held by pid %d (session %s, expires %s)",
			e.Path, e.Holder.HolderPID, e.Holder.SessionID, e.Holder.ExpiresAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("executor: lock %q held by another process", e.Path)
}

// AcquireLock opens (creating if needed) the lock file at path and takes
// an exclusive flock. sessionID and mode are recorded in the lock
// payload; expiry defaults to DefaultLockExpiry when zero or negative.
//
// When the flock is already held, the existing payload is read and
// checked for staleness (spec §3 "Lock": "stale iff holder not alive OR
// expired"). A stale lock is reclaimed by atomically replacing the lock
// file (write-temp-then-rename, the same atomicity idiom
// internal/session.Store uses for stage artifacts) rather than by
// breaking the live flock, which the kernel gives no portable way to do;
// the rename is then revalidated against a fresh stat of the target path
// so a concurrent reclaimer that won the race is detected instead of
// silently believed (spec §3 "revalidating staleness atomically"). When
// the holder is not stale, wait=false returns *ErrLockBusy with the
// holder summary (spec §4.5 "non-interactive callers return lock_busy
// with the holder summary"); wait=true blocks for the flock instead.
func AcquireLock(path string, wait bool, sessionID, mode string, expiry time.Duration) (*Lock, error) {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("executor.AcquireLock: open %q: %w", path, err)
	}

	flags := unix.LOCK_EX
	if !wait {
		flags |= unix.LOCK_NB
	}

	if err := unix.Flock(int(f.Fd()), flags); err != nil {
		holder, known := readLockInfo(f)
		_ = f.Close()

		if known && isStale(holder) {
			if reclaimed, rerr := reclaimStaleLock(path, sessionID, mode, expiry); rerr == nil {
				return reclaimed, nil
			}
		}
		return nil, &ErrLockBusy{Path: path, Holder: holder, Known: known}
	}

	now := time.Now().UTC()
	info := LockInfo{
		HolderPID:  os.Getpid(),
		SessionID:  sessionID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(expiry),
		Mode:       mode,
	}
	if err := writeLockInfo(f, info); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	return &Lock{f: f, path: path, info: info}, nil
}

// isStale reports whether a lock's holder is no longer alive or has
// passed its self-reported expiry (spec §3 "Lock" "stale iff holder not
// alive OR expired").
func isStale(info LockInfo) bool {
	if time.Now().After(info.ExpiresAt) {
		return true
	}
	return !processAlive(info.HolderPID)
}

// processAlive sends signal 0, which performs no action but still
// reports ESRCH for a pid that doesn't exist (EPERM means it exists but
// is owned by another user, which still counts as alive).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// reclaimStaleLock replaces a stale lock file at path with a fresh one
// this process holds, via create-temp/flock/write/rename-over, then
// confirms the rename actually won against any concurrent reclaimer.
func reclaimStaleLock(path, sessionID, mode string, expiry time.Duration) (*Lock, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".reclaim-*")
	if err != nil {
		return nil, fmt.Errorf("executor.reclaimStaleLock: create temp: %w", err)
	}
	cleanup := func() {
		_ = unix.Flock(int(tmp.Fd()), unix.LOCK_UN)
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	if err := unix.Flock(int(tmp.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		cleanup()
		return nil, fmt.Errorf("executor.reclaimStaleLock: flock temp: %w", err)
	}

	now := time.Now().UTC()
	info := LockInfo{
		HolderPID:  os.Getpid(),
		SessionID:  sessionID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(expiry),
		Mode:       mode,
	}
	if err := writeLockInfo(tmp, info); err != nil {
		cleanup()
		return nil, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return nil, fmt.Errorf("executor.reclaimStaleLock: rename: %w", err)
	}

	onDisk, err := os.Stat(path)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("executor.reclaimStaleLock: stat after rename: %w", err)
	}
	ours, err := tmp.Stat()
	if err != nil || !os.SameFile(onDisk, ours) {
		cleanup()
		return nil, fmt.Errorf("executor.reclaimStaleLock: lost reclaim race for %q", path)
	}

	return &Lock{f: tmp, path: path, info: info}, nil
}

func readLockInfo(f *os.File) (LockInfo, bool) {
	buf := make([]byte, 4096)
	n, _ := f.ReadAt(buf, 0)
	if n == 0 {
		return LockInfo{}, false
	}
	var info LockInfo
	if err := json.Unmarshal(buf[:n], &info); err != nil {
		return LockInfo{}, false
	}
	return info, true
}

func writeLockInfo(f *os.File, info LockInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("executor: marshal lock info: %w", err)
	}
	if err := f.Truncate(int64(len(data))); err != nil {
		return fmt.Errorf("executor: truncate lock file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("executor: write lock file: %w", err)
	}
	return nil
}

// Extend refreshes the lock's expiry by d from now (spec §3 "Lock"
// "expiry time ... extendable"), rewriting the payload under the
// still-held flock.
func (l *Lock) Extend(d time.Duration) error {
	if l == nil || l.f == nil {
		return fmt.Errorf("executor: cannot extend a nil lock")
	}
	l.info.ExpiresAt = time.Now().UTC().Add(d)
	return writeLockInfo(l.f, l.info)
}

// Release releases the lock, safe to call on every exit path including
// after a panic recovery (spec §4.5: "Release on every exit path").
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
	return err
}
