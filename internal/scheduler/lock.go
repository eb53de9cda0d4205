package scheduler

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrLockHeld is returned when another process holds the lock file.
var ErrLockHeld = errors.New("lock already held by another process")

// FileLock is a pid file guarding against two supervisors polling the
// same store.
type FileLock struct {
	path string
	pid  int
}

// NewFileLock creates a lock around the given path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, pid: os.Getpid()}
}

// Acquire takes the lock. A lock file left behind by a dead process is
// reclaimed; one owned by a live process means ErrLockHeld.
func (l *FileLock) Acquire() error {
	if err := l.tryCreate(); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrExist) {
		return err
	}

	owner, err := l.ownerPid()
	if err != nil {
		return err
	}
	if processAlive(owner) {
		return fmt.Errorf("%w: pid %d", ErrLockHeld, owner)
	}

	// Stale lock from a dead process.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	return l.tryCreate()
}

// Release removes the lock file if this process owns it.
func (l *FileLock) Release() error {
	owner, err := l.ownerPid()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if owner != l.pid {
		return nil
	}
	return os.Remove(l.path)
}

func (l *FileLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "%d", l.pid); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return nil
}

func (l *FileLock) ownerPid() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("bad lock file %s: %w", l.path, err)
	}
	return pid, nil
}

// processAlive probes the pid with a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
