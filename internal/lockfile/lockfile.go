// Package lockfile guards a CicekTerapi state directory against a second
// server process.
//
// The lock is an flock(2) on a file inside the state directory, so the kernel
// drops it when the holding process exits for any reason. The file body
// records who holds it, which is only used to build error messages.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "cicekterapi.lock"

// Info describes the process holding a lock.
type Info struct {
	PID       int
	StartedAt time.Time
	Addr      string
}

func (i Info) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", i.PID)
	fmt.Fprintf(&b, "started=%s\n", i.StartedAt.UTC().Format(time.RFC3339))
	if i.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", i.Addr)
	}
	return b.String()
}

// parseInfo reads the key=value lines written by encode. Unknown keys and
// malformed values are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.StartedAt = t
			}
		case "addr":
			info.Addr = value
		}
	}
	return info
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock for stateDir, creating the directory if needed.
// addr is recorded for diagnostics and may be empty. If another process holds
// the lock the error is a *LockError.
func Acquire(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Opened without O_TRUNC so a failed attempt leaves the holder's info intact.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := newLockError(lockPath, err)
		slog.Error("lockfile.Acquire: state directory is locked", "lockPath", lockPath, "holderPID", lockErr.Holder.PID, "holderRunning", lockErr.HolderRunning)
		return nil, lockErr
	}

	info := Info{PID: os.Getpid(), StartedAt: time.Now(), Addr: addr}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: acquired state directory lock", "lockPath", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file and drops the lock. It is safe to call more
// than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "lockPath", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to unlock", "lockPath", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lock.Release: released state directory lock", "lockPath", l.path)
	return err
}

// LockError reports that another process holds the lock.
type LockError struct {
	Path          string
	Holder        Info
	HolderRunning bool
	Cause         error
}

func newLockError(path string, cause error) *LockError {
	e := &LockError{Path: path, Cause: cause}
	if data, err := os.ReadFile(path); err == nil {
		e.Holder = parseInfo(string(data))
	}
	if e.Holder.PID > 0 {
		e.HolderRunning = processAlive(e.Holder.PID)
	}
	return e
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another CicekTerapi instance is using this state directory (lock file %s)", e.Path)
	if e.Holder.PID > 0 {
		state := "running"
		if !e.HolderRunning {
			state = "not running, the lock may be stale"
		}
		fmt.Fprintf(&b, "; held by PID %d (%s)", e.Holder.PID, state)
		if !e.Holder.StartedAt.IsZero() {
			fmt.Fprintf(&b, " since %s", e.Holder.StartedAt.Format(time.RFC3339))
		}
		if e.Holder.Addr != "" {
			fmt.Fprintf(&b, " serving %s", e.Holder.Addr)
		}
	}
	fmt.Fprintf(&b, "; remove %s only if no other instance is running", e.Path)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// processAlive sends signal 0, which checks for existence without delivering
// anything.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
