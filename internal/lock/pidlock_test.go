package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "run", "saya.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, err := ReadPID(lockPath)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
	if l.Path() != lockPath {
		t.Fatalf("Path() = %q", l.Path())
	}
}

func TestAcquirePIDLockHeld(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "saya.lock")
	first, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}

	if _, err := AcquirePIDLock(lockPath); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire error = %v, want ErrHeld", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	if _, err := AcquirePIDLock(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHeld(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "saya.lock")
	held, err := Held(lockPath)
	if err != nil || held {
		t.Fatalf("Held(missing) = %v, %v", held, err)
	}

	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	held, err = Held(lockPath)
	if err != nil || !held {
		t.Fatalf("Held(locked) = %v, %v", held, err)
	}

	_ = l.Release()
	held, err = Held(lockPath)
	if err != nil || held {
		t.Fatalf("Held(released) = %v, %v", held, err)
	}
}
