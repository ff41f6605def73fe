// Package lock keeps a single saya host running per lock file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("lock held by another process")

// PIDLock is a single-instance lock implemented via a PID file + flock(2).
// Keep the lock alive by keeping the file descriptor open.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock acquires an exclusive non-blocking lock at lockPath, writes the
// current PID into the file, and returns a handle that must be released.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := checkLocalFilesystem(lockPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, perr := ReadPID(lockPath); perr == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrHeld, pid)
			}
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) (*PIDLock, error) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("write pid to", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}

	return &PIDLock{path: lockPath, f: f}, nil
}

// ReadPID returns the PID recorded in the lock file at lockPath.
func ReadPID(lockPath string) (int, error) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", lockPath, err)
	}
	return pid, nil
}

// Held reports whether a live process holds the lock at lockPath. A missing
// file is not held.
func Held(lockPath string) (bool, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return true, nil
		}
		return false, fmt.Errorf("test lock: %w", err)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false, nil
}

func (l *PIDLock) Path() string { return l.path }

func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
