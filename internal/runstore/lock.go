package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	runLockDirName   = ".run.lock"
	runLockOwnerFile = "owner.json"
)

var ErrLocked = errors.New("output root is locked by another run")

type RunLock struct {
	lockDir string
}

type runLockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireRunLock takes the per-output-root lock. mkdir is atomic, so two runs
// racing on the same root cannot both succeed.
func AcquireRunLock(root, runID string) (RunLock, error) {
	target := strings.TrimSpace(root)
	if target == "" {
		return RunLock{}, fmt.Errorf("output root is required")
	}
	if err := Mkdir(target); err != nil {
		return RunLock{}, err
	}

	lockDir := filepath.Join(target, runLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			var owner runLockOwner
			if readErr := ReadJSON(filepath.Join(lockDir, runLockOwnerFile), &owner); readErr == nil && owner.PID > 0 {
				return RunLock{}, fmt.Errorf("%w: %s (pid=%d run_id=%s created_at=%s host=%s)",
					ErrLocked, target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname)
			}
			return RunLock{}, fmt.Errorf("%w: %s", ErrLocked, target)
		}
		return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
	}

	owner := runLockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, runLockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}
	return RunLock{lockDir: lockDir}, nil
}

func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, runLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

// BreakRunLock removes a lock left behind by a crashed run.
func BreakRunLock(root string) error {
	lockDir := filepath.Join(strings.TrimSpace(root), runLockDirName)
	if err := os.RemoveAll(lockDir); err != nil {
		return fmt.Errorf("break run lock %s: %w", lockDir, err)
	}
	return nil
}

// LockHolder reports whether root is locked and, when the owner file is
// readable, which run holds it.
func LockHolder(root string) (string, bool) {
	lockDir := filepath.Join(strings.TrimSpace(root), runLockDirName)
	if info, err := os.Stat(lockDir); err != nil || !info.IsDir() {
		return "", false
	}
	var owner runLockOwner
	if err := ReadJSON(filepath.Join(lockDir, runLockOwnerFile), &owner); err != nil {
		return "", true
	}
	return owner.RunID, true
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
