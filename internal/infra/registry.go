package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// DefaultRegistryPath keeps the record next to the other sentinels.
const DefaultRegistryPath = "/data/local/tmp/.deviceguard_daemon.json"

// FileRegistry implements domain.DaemonRegistry using a JSON file.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry at path.
func NewFileRegistry(path string, pm domain.ProcessManager) domain.DaemonRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetRegistryPath returns the record file path.
func (r *FileRegistry) GetRegistryPath() string {
	return r.path
}

// Register saves the daemon record.
func (r *FileRegistry) Register(rec domain.DaemonRecord) error {
	// Use file lock so a racing `start` cannot interleave writes
	lockPath := r.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	return r.atomicWrite(&rec)
}

// Get returns the saved record, or nil if none exists.
func (r *FileRegistry) Get() (*domain.DaemonRecord, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rec domain.DaemonRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// IsAlive checks if the recorded daemon is running via PID.
func (r *FileRegistry) IsAlive() (bool, error) {
	rec, err := r.Get()
	if err != nil {
		return false, err
	}
	if rec == nil || rec.PID == 0 {
		return false, nil
	}
	return r.processManager.IsRunning(rec.PID), nil
}

// Clear removes the record file. A missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes the record to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(rec *domain.DaemonRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
