package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, "test-app")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file should exist after acquire: %v", err)
	}

	lock.Release()
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file should be gone after release, got err=%v", err)
	}

	// Double release must be a no-op.
	lock.Release()
}

func TestSecondAcquireFailsWhileHeld(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, "first")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lock.Release()

	_, err = Acquire(context.Background(), dir, "second")
	var active *ErrLockActive
	if !errors.As(err, &active) {
		t.Fatalf("expected *ErrLockActive, got %v", err)
	}
	if active.PID != int64(os.Getpid()) {
		t.Errorf("expected holder PID %d, got %d", os.Getpid(), active.PID)
	}
}

func TestStaleLockIsTakenOver(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	stale := LockContent{
		PID:        99999,
		Hostname:   "ghost",
		LastUpdate: time.Now().UTC().Add(-24 * time.Hour),
		AppID:      "crashed-run",
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(context.Background(), dir, "takeover")
	if err != nil {
		t.Fatalf("expected takeover of stale lock, got: %v", err)
	}
	defer lock.Release()

	content, err := readLockContent(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock after takeover: %v", err)
	}
	if content.AppID != "takeover" {
		t.Errorf("expected new AppID, got %q", content.AppID)
	}
}

func TestCorruptLockIsTakenOver(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	if err := os.WriteFile(lockPath, []byte("{{{"), 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(context.Background(), dir, "recover")
	if err != nil {
		t.Fatalf("expected takeover of corrupt lock, got: %v", err)
	}
	lock.Release()
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Acquire(ctx, t.TempDir(), "canceled"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
