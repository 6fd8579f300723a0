package runstore

import (
	"errors"
	"testing"
)

func TestAcquireRunLock_BlocksConcurrentAcquire(t *testing.T) {
	root := t.TempDir()

	lock, err := AcquireRunLock(root, "run-a")
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	_, err = AcquireRunLock(root, "run-b")
	if err == nil {
		t.Fatalf("expected second acquire to fail")
	}
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	lock2, err := AcquireRunLock(root, "run-c")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("release second lock: %v", err)
	}
}

func TestBreakRunLock_AllowsReacquire(t *testing.T) {
	root := t.TempDir()
	if _, err := AcquireRunLock(root, "crashed"); err != nil {
		t.Fatal(err)
	}
	if err := BreakRunLock(root); err != nil {
		t.Fatal(err)
	}
	lock, err := AcquireRunLock(root, "next")
	if err != nil {
		t.Fatalf("acquire after break: %v", err)
	}
	_ = lock.Release()
}

func TestLockHolder(t *testing.T) {
	root := t.TempDir()
	if _, locked := LockHolder(root); locked {
		t.Fatal("fresh root should not be locked")
	}
	lock, err := AcquireRunLock(root, "run-x")
	if err != nil {
		t.Fatal(err)
	}
	runID, locked := LockHolder(root)
	if !locked || runID != "run-x" {
		t.Fatalf("expected lock held by run-x, got %q locked=%v", runID, locked)
	}
	_ = lock.Release()
	if _, locked := LockHolder(root); locked {
		t.Fatal("released root should not be locked")
	}
}
