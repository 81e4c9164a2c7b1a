// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"regexp"
	"strings"
	"time"
)

// PackageSlot is the substitution slot in a cache path template.
const PackageSlot = "%s"

// packagePattern matches Android package and process names (com.foo.bar, com.foo:remote).
var packagePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.:-]*$`)

// ValidPackage reports whether pkg is safe to use as a package identity.
// Identities are substituted into paths that get removed recursively,
// so separators and parent references are rejected.
func ValidPackage(pkg string) bool {
	if len(pkg) == 0 || len(pkg) > 255 {
		return false
	}
	if strings.Contains(pkg, "..") {
		return false
	}
	return packagePattern.MatchString(pkg)
}

// Config is the immutable-after-load snapshot of the watched package policy.
type Config struct {
	Packages          []string // Watched package identities
	RunningPerm       string   // Octal gate mode while any watched package runs
	StoppedPerm       string   // Octal gate mode once all watched packages exit
	CacheTemplate     string   // Cache directory template with one %s slot
	ExtraKill         []string // Auxiliary process names killed on app start
	CleanDelaySeconds int      // Cooldown before the cache purge
}

// CleanDelay returns the cleanup cooldown as a duration.
func (c Config) CleanDelay() time.Duration {
	return time.Duration(c.CleanDelaySeconds) * time.Second
}

// CachePath builds the cache purge target for pkg.
func (c Config) CachePath(pkg string) string {
	return strings.Replace(c.CacheTemplate, PackageSlot, pkg, 1)
}

// Watches reports whether pkg is in the watched set.
func (c Config) Watches(pkg string) bool {
	for _, p := range c.Packages {
		if p == pkg {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots never share slices.
func (c Config) Clone() Config {
	out := c
	out.Packages = append([]string(nil), c.Packages...)
	out.ExtraKill = append([]string(nil), c.ExtraKill...)
	return out
}

// AppStarted is the notification sent by the specialization hook.
type AppStarted struct {
	Package string
	PID     int // 0 when the notifier did not send one
}

// WatchEvent is a single liveness record from the process watcher.
type WatchEvent struct {
	WD       int  // Watch descriptor whose process directory vanished
	Overflow bool // Kernel queue overflowed; registrations must be reconciled
}

// DaemonRecord describes the running companion daemon.
// Persisted to a JSON file so CLI commands can find it.
type DaemonRecord struct {
	PID        int    `json:"pid"`
	SocketPath string `json:"socket_path"`
	StartedAt  int64  `json:"started_at"`
	AppVersion string `json:"app_version,omitempty"`
}

// ReapResult captures what happened during a single auxiliary process sweep.
type ReapResult struct {
	KilledPIDs []int
	Errors     []error
	ExecutedAt time.Time
	DurationMs int64
}
