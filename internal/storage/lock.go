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

	"github.com/steveyegge/autoprog/internal/config"
)

// ErrWorkspaceLocked is returned when another live process holds the run lock.
var ErrWorkspaceLocked = errors.New("workspace is locked by another run")

const lockFile = "run.lock"

// RunLock is the lock file that gives one process exclusive mutation rights
// over a workspace for the duration of a batch.
type RunLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id"`
}

// LockPath returns the run lock path for a workspace root.
func LockPath(root string) string {
	return filepath.Join(root, config.StateDir, lockFile)
}

// AcquireRunLock creates the run lock for root. A lock left behind by a dead
// process on this host is treated as stale and replaced.
// Returns the lock file path for cleanup on shutdown.
func AcquireRunLock(root, runID string) (lockPath string, err error) {
	lockPath = LockPath(root)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing RunLock
		if json.Unmarshal(data, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w (PID %d on %s, run %s, started %s)", ErrWorkspaceLocked,
				existing.PID, existing.Hostname, existing.RunID, existing.StartedAt.Format(time.RFC3339))
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := RunLock{
		Holder:    "autoprog",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		RunID:     runID,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create run lock: %w", err)
	}
	return lockPath, nil
}

// ReleaseRunLock removes the lock file. Should be called with defer.
func ReleaseRunLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run lock: %w", err)
	}
	return nil
}

// isProcessAlive reports whether pid exists on hostname. Remote hosts and
// permission errors count as alive.
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
	// signal 0 probes for existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// ReadRunLock returns the current lock holder, or nil when the workspace is
// not locked. A lock left by a dead process is reported as nil.
func ReadRunLock(root string) (*RunLock, error) {
	data, err := os.ReadFile(LockPath(root))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run lock: %w", err)
	}
	var lock RunLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse run lock: %w", err)
	}
	if !isProcessAlive(lock.PID, lock.Hostname) {
		return nil, nil
	}
	return &lock, nil
}
