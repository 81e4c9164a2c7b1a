package domain

import "context"

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for /proc enumeration.
type ProcessManager interface {
	// FindByCmdline returns pid -> name for processes whose argv[0]
	// exactly equals one of names.
	FindByCmdline(names ...string) (map[int]string, error)

	// FindByCmdlinePrefix returns PIDs whose full command line starts with prefix.
	// The current process is never included.
	FindByCmdlinePrefix(prefix string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// FileSystemManager handles filesystem operations.
type FileSystemManager interface {
	// Delete removes a file or directory recursively.
	// Deleting a missing path is not an error.
	Delete(path string) error
}

// PermissionGate toggles the access mode of the single gated path.
type PermissionGate interface {
	// Apply parses mode as octal and sets it on the gate path.
	Apply(mode string) error

	// Mode returns the current octal mode of the gate path.
	Mode() (string, error)

	// Path returns the gated path.
	Path() string
}

// ProcessWatcher wraps the kernel event subscription used to observe process exit.
// It knows watch descriptors only; mapping them to packages is the caller's job.
type ProcessWatcher interface {
	// AddWatch subscribes to removal of the process directory for pid.
	AddWatch(pid int) (int, error)

	// RemoveWatch drops a subscription.
	RemoveWatch(wd int) error

	// Run consumes kernel events and calls handle for each one until ctx is done.
	Run(ctx context.Context, handle func(WatchEvent))

	// Close releases the kernel context.
	Close() error
}

// ConfigStore loads the watched package policy.
type ConfigStore interface {
	// Load returns the current config, falling back to defaults.
	Load() Config

	// Path returns the config source location.
	Path() string
}

// FlagStore exposes the sentinel files the host and CLI use for signaling.
type FlagStore interface {
	// Enabled reports whether the feature-enable sentinel exists.
	Enabled() bool

	// ConsumeReload checks for the reload sentinel and deletes it.
	ConsumeReload() bool

	// RequestReload creates the reload sentinel.
	RequestReload() error
}

// DaemonRegistry records the running daemon for discovery by CLI commands.
// Implementation: JSON file guarded by flock.
type DaemonRegistry interface {
	// Register saves the current daemon record.
	Register(rec DaemonRecord) error

	// Get returns the saved record, or nil if none exists.
	Get() (*DaemonRecord, error)

	// IsAlive checks if the recorded daemon PID is running.
	IsAlive() (bool, error)

	// Clear removes the record.
	Clear() error

	// GetRegistryPath returns the record file path.
	GetRegistryPath() string
}
