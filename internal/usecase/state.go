// Package usecase contains application business logic.
package usecase

import (
	"sync"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// Transition is a gate mode computed from one state snapshot.
// Seq orders transitions; a gate never applies a Seq older than one it already applied.
type Transition struct {
	Mode string
	Seq  uint64
}

// Exit describes the effect of consuming one liveness-lost registration.
type Exit struct {
	Package        string
	PID            int
	WD             int
	PackageStopped bool        // No other watched instance of Package remains
	Gate           *Transition // Set when every watched package is now stopped
	Config         domain.Config
}

// Registration is a snapshot of one active watch.
type Registration struct {
	WD      int
	PID     int
	Package string
}

type registration struct {
	pkg string
	pid int
}

// DaemonState is the single exclusion domain for the running-state table
// and the watch registrations. Methods hold the lock only for map access,
// except Register (see there); callers perform I/O with the values returned.
type DaemonState struct {
	mu        sync.Mutex
	config    domain.Config
	running   map[string]bool
	watches   map[int]registration
	resolving map[string]int // pending pid lookups per package
	seq       uint64
}

// NewDaemonState creates state with an entry for every watched package.
func NewDaemonState(cfg domain.Config) *DaemonState {
	s := &DaemonState{
		config:  cfg.Clone(),
		running:   make(map[string]bool),
		watches:   make(map[int]registration),
		resolving: make(map[string]int),
	}
	for _, pkg := range cfg.Packages {
		s.running[pkg] = false
	}
	return s
}

// AllStopped reports whether every watched package's entry is false.
// Absent entries count as false; an empty watched set is vacuously stopped.
func AllStopped(running map[string]bool, watched []string) bool {
	for _, pkg := range watched {
		if running[pkg] {
			return false
		}
	}
	return true
}

// Config returns the current config snapshot.
func (s *DaemonState) Config() domain.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// AllStopped evaluates the aggregate predicate over the watched set.
func (s *DaemonState) AllStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AllStopped(s.running, s.config.Packages)
}

// Running returns a copy of the running-state table.
func (s *DaemonState) Running() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.running))
	for k, v := range s.running {
		out[k] = v
	}
	return out
}

// Registrations returns a snapshot of the active watches.
func (s *DaemonState) Registrations() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Registration, 0, len(s.watches))
	for wd, r := range s.watches {
		out = append(out, Registration{WD: wd, PID: r.pid, Package: r.pkg})
	}
	return out
}

// MarkRunning sets pkg running and returns the gate transition to apply.
func (s *DaemonState) MarkRunning(pkg string) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[pkg] = true
	return s.transitionLocked()
}

// Current returns the gate transition matching the current snapshot.
func (s *DaemonState) Current() Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked()
}

// Register adds a watch for pid via add and records it, all inside the
// critical section. This is the one exception to the map-access-only rule:
// add performs the inotify_add_watch syscall under the lock. The event loop
// looks descriptors up under the same lock, so it can never observe a
// descriptor before its registration is visible. add must be non-blocking.
//
// When the registration flips pkg from stopped to running the returned
// transition is non-nil and must be applied to the gate.
func (s *DaemonState) Register(pid int, pkg string, add func(pid int) (int, error)) (int, *Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wd, err := add(pid)
	if err != nil {
		return -1, nil, err
	}
	s.watches[wd] = registration{pkg: pkg, pid: pid}

	if s.running[pkg] {
		return wd, nil, nil
	}
	s.running[pkg] = true
	tr := s.transitionLocked()
	return wd, &tr, nil
}

// BeginResolve marks a pid lookup for pkg as pending. Until the matching
// EndResolve, the exit of another pkg instance does not stop pkg.
func (s *DaemonState) BeginResolve(pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolving[pkg]++
}

// EndResolve completes a lookup started by BeginResolve.
func (s *DaemonState) EndResolve(pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolving[pkg] <= 1 {
		delete(s.resolving, pkg)
		return
	}
	s.resolving[pkg]--
}

// Release consumes the registration for wd. ok is false when wd is unknown,
// which includes a descriptor already consumed by an earlier event.
func (s *DaemonState) Release(wd int) (Exit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.watches[wd]
	if !ok {
		return Exit{}, false
	}
	delete(s.watches, wd)
	return s.exitLocked(r.pkg, r.pid, wd), true
}

// ReleaseIf consumes wd only if it still belongs to pid.
func (s *DaemonState) ReleaseIf(wd, pid int) (Exit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.watches[wd]
	if !ok || r.pid != pid {
		return Exit{}, false
	}
	delete(s.watches, wd)
	return s.exitLocked(r.pkg, r.pid, wd), true
}

// MarkExited records that an unwatched instance of pkg is gone.
func (s *DaemonState) MarkExited(pkg string, pid int) Exit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitLocked(pkg, pid, -1)
}

// Reconfigure swaps the config. Existing entries are kept and newly watched
// packages get a false entry. The returned transition reflects the new modes.
func (s *DaemonState) Reconfigure(cfg domain.Config) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = cfg.Clone()
	for _, pkg := range cfg.Packages {
		if _, ok := s.running[pkg]; !ok {
			s.running[pkg] = false
		}
	}
	return s.transitionLocked()
}

func (s *DaemonState) exitLocked(pkg string, pid, wd int) Exit {
	exit := Exit{Package: pkg, PID: pid, WD: wd, Config: s.config.Clone()}

	for _, r := range s.watches {
		if r.pkg == pkg {
			// Another instance of the package is still watched.
			return exit
		}
	}
	if s.resolving[pkg] > 0 {
		// A freshly started instance is still being looked up.
		return exit
	}

	s.running[pkg] = false
	exit.PackageStopped = true
	if AllStopped(s.running, s.config.Packages) {
		tr := s.transitionLocked()
		exit.Gate = &tr
	}
	return exit
}

func (s *DaemonState) transitionLocked() Transition {
	s.seq++
	mode := s.config.RunningPerm
	if AllStopped(s.running, s.config.Packages) {
		mode = s.config.StoppedPerm
	}
	return Transition{Mode: mode, Seq: s.seq}
}
