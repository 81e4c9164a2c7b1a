package infra

import (
	"os"
)

// ExecMode represents the privilege the daemon runs with.
type ExecMode string

const (
	// ExecModeRoot runs from the module service script as root
	ExecModeRoot ExecMode = "root"
	// ExecModeUnprivileged runs from an adb shell or a test; the gate chmod will fail
	ExecModeUnprivileged ExecMode = "unprivileged"
)

// ExecModeConfig describes the detected execution mode.
type ExecModeConfig struct {
	Mode   ExecMode
	UID    int
	IsRoot bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	return execModeFor(os.Geteuid())
}

func execModeFor(euid int) *ExecModeConfig {
	if euid == 0 {
		return &ExecModeConfig{Mode: ExecModeRoot, UID: euid, IsRoot: true}
	}
	return &ExecModeConfig{Mode: ExecModeUnprivileged, UID: euid}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeRoot:
		return "root (full gate control)"
	case ExecModeUnprivileged:
		return "unprivileged (gate changes will fail)"
	default:
		return "unknown"
	}
}
