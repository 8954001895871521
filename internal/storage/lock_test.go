package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	path, err := AcquireExclusiveLock(dir, "1.0.0")
	if err != nil {
		t.Fatalf("AcquireExclusiveLock failed: %v", err)
	}
	lock, err := ReadLock(path)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}
	if lock.PID != os.Getpid() || lock.Version != "1.0.0" {
		t.Errorf("unexpected lock contents: %+v", lock)
	}

	// Our own process is alive so a second claim fails
	if _, err := AcquireExclusiveLock(dir, "1.0.0"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if err := ReleaseExclusiveLock(path); err != nil {
		t.Fatalf("ReleaseExclusiveLock failed: %v", err)
	}
	if err := ReleaseExclusiveLock(path); err != nil {
		t.Errorf("second release should be a no-op: %v", err)
	}
	if err := ReleaseExclusiveLock(""); err != nil {
		t.Errorf("empty path should be a no-op: %v", err)
	}
}

func TestStaleLockTakenOver(t *testing.T) {
	dir := t.TempDir()
	hostname, _ := os.Hostname()
	stale := ExclusiveLock{Holder: "selfheal-serve", PID: 999999999, Hostname: hostname, StartedAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(dir, LockFileName), data, 0644); err != nil {
		t.Fatal(err)
	}

	path, err := AcquireExclusiveLock(dir, "dev")
	if err != nil {
		t.Fatalf("expected stale lock to be replaced: %v", err)
	}
	lock, err := ReadLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("expected PID %d, got %d", os.Getpid(), lock.PID)
	}
}

func TestRemoteLockRespected(t *testing.T) {
	dir := t.TempDir()
	remote := ExclusiveLock{Holder: "selfheal-serve", PID: 1, Hostname: "some-other-host.invalid"}
	data, _ := json.Marshal(remote)
	if err := os.WriteFile(filepath.Join(dir, LockFileName), data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := AcquireExclusiveLock(dir, "dev"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for remote holder, got %v", err)
	}
}
