// Package storage holds helpers shared by the selfheal storage backends.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory while a server owns it.
const LockFileName = ".serve-lock"

// ErrLocked is returned when a live process already holds the lock.
var ErrLocked = errors.New("state directory is locked")

// ExclusiveLock is the lock file format. Only one selfheal server may own a
// state directory because shared-state records are last-writer-wins.
type ExclusiveLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// AcquireExclusiveLock claims dir for this process. A lock left behind by a
// dead local process is taken over. Returns the lock path for ReleaseExclusiveLock.
func AcquireExclusiveLock(dir, version string) (lockPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	lockPath = filepath.Join(dir, LockFileName)

	if existing, err := ReadLock(lockPath); err == nil && isProcessAlive(existing.PID, existing.Hostname) {
		return "", fmt.Errorf("%w: held by %s (PID %d on %s, started %s)", ErrLocked,
			existing.Holder, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	lock := ExclusiveLock{
		Holder:    "selfheal-serve",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create exclusive lock: %w", err)
	}
	return lockPath, nil
}

// ReadLock parses an existing lock file
func ReadLock(lockPath string) (*ExclusiveLock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock ExclusiveLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("invalid lock file %s: %w", lockPath, err)
	}
	return &lock, nil
}

// ReleaseExclusiveLock removes the lock file. An empty path is a no-op.
func ReleaseExclusiveLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove exclusive lock: %w", err)
	}
	return nil
}

// isProcessAlive reports whether pid exists on hostname. Remote hosts and
// permission errors count as alive since they cannot be checked.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
