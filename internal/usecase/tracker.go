package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// TrackerConfig holds tracker tuning.
type TrackerConfig struct {
	ResolveAttempts int           // Cmdline scans for a notification without a pid
	ResolveInterval time.Duration // Pause between those scans
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ResolveAttempts: 10,
		ResolveInterval: 200 * time.Millisecond, // nice name is applied shortly after specialization
	}
}

// Tracker drives the running/stopped state machine: app starts relax the
// gate and register watches, liveness-lost events restore the gate once
// every watched package is gone and schedule the cache purge.
type Tracker struct {
	config    TrackerConfig
	state     *DaemonState
	gate      *GateController
	watcher   domain.ProcessWatcher
	pm        domain.ProcessManager
	reaper    *Reaper
	cleaner   Cleaner
	logger    *zap.Logger
	resolving sync.WaitGroup
}

// NewTracker creates a new tracker.
func NewTracker(
	config TrackerConfig,
	state *DaemonState,
	gate *GateController,
	watcher domain.ProcessWatcher,
	pm domain.ProcessManager,
	reaper *Reaper,
	cleaner Cleaner,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		config:  config,
		state:   state,
		gate:    gate,
		watcher: watcher,
		pm:      pm,
		reaper:  reaper,
		cleaner: cleaner,
		logger:  logger,
	}
}

// State returns the shared daemon state.
func (t *Tracker) State() *DaemonState {
	return t.state
}

// ScanExisting registers every already-running watched process and applies
// the resulting gate mode. It is a bounded startup phase, not a poll.
func (t *Tracker) ScanExisting() int {
	cfg := t.state.Config()

	found, err := t.pm.FindByCmdline(cfg.Packages...)
	if err != nil {
		t.logger.Warn("process scan failed", zap.Error(err))
		found = nil
	}

	tracked := 0
	for pid, pkg := range found {
		if t.track(pid, pkg) {
			tracked++
		}
	}

	t.gate.Apply(t.state.Current())
	t.logger.Info("startup scan complete",
		zap.Int("found", len(found)),
		zap.Int("tracked", tracked))
	return tracked
}

// AppStarted handles a start notification. The watch for a known pid is
// registered before this returns; a notification without a pid resolves it
// from process command lines in the background.
func (t *Tracker) AppStarted(ctx context.Context, ev domain.AppStarted) {
	cfg := t.state.Config()
	if !cfg.Watches(ev.Package) {
		t.logger.Warn("ignoring start of unwatched package", zap.String("package", ev.Package))
		return
	}

	t.logger.Info("target starting",
		zap.String("package", ev.Package),
		zap.Int("pid", ev.PID))

	t.gate.Apply(t.state.MarkRunning(ev.Package))

	if len(cfg.ExtraKill) > 0 {
		t.reaper.Reap(cfg.ExtraKill)
	}

	if ev.PID > 0 {
		t.track(ev.PID, ev.Package)
		return
	}

	// Registered before returning so an exit event handled from now on
	// sees the pending lookup.
	t.state.BeginResolve(ev.Package)
	t.resolving.Add(1)
	go func() {
		defer t.resolving.Done()
		defer t.state.EndResolve(ev.Package)
		t.resolveAndTrack(ctx, ev.Package)
	}()
}

// HandleEvent consumes one watcher event.
func (t *Tracker) HandleEvent(ev domain.WatchEvent) {
	if ev.Overflow {
		t.Reconcile()
		return
	}

	exit, ok := t.state.Release(ev.WD)
	if !ok {
		t.logger.Debug("event for unknown watch", zap.Int("wd", ev.WD))
		return
	}

	t.logger.Info("process died",
		zap.String("package", exit.Package),
		zap.Int("pid", exit.PID),
		zap.Int("wd", exit.WD))
	t.finishExit(exit)
}

// Reconcile releases registrations whose process is gone. Used after the
// kernel event queue overflowed and deliveries may have been dropped.
func (t *Tracker) Reconcile() {
	for _, r := range t.state.Registrations() {
		if t.pm.IsRunning(r.PID) {
			continue
		}
		exit, ok := t.state.ReleaseIf(r.WD, r.PID)
		if !ok {
			continue
		}
		if err := t.watcher.RemoveWatch(exit.WD); err != nil {
			// The kernel usually dropped it together with the process.
			t.logger.Debug("remove watch", zap.Int("wd", exit.WD), zap.Error(err))
		}
		t.logger.Info("process gone during reconcile",
			zap.String("package", exit.Package),
			zap.Int("pid", exit.PID))
		t.finishExit(exit)
	}
}

// Reload swaps in a new config, picks up newly watched running processes
// and reapplies the gate with the new modes.
func (t *Tracker) Reload(cfg domain.Config) {
	t.gate.Apply(t.state.Reconfigure(cfg))
	t.ScanExisting()
}

// Wait blocks until background pid resolution has finished.
func (t *Tracker) Wait() {
	t.resolving.Wait()
}

// track registers a watch for pid. A process that exited before the watch
// could be added is treated as an immediate exit.
func (t *Tracker) track(pid int, pkg string) bool {
	wd, tr, err := t.state.Register(pid, pkg, t.watcher.AddWatch)
	if err != nil {
		if !t.pm.IsRunning(pid) {
			t.logger.Info("process exited before watch",
				zap.String("package", pkg),
				zap.Int("pid", pid))
			t.finishExit(t.state.MarkExited(pkg, pid))
			return false
		}
		t.logger.Warn("failed to watch process",
			zap.String("package", pkg),
			zap.Int("pid", pid),
			zap.Error(err))
		return false
	}

	t.logger.Info("watching process",
		zap.String("package", pkg),
		zap.Int("pid", pid),
		zap.Int("wd", wd))
	if tr != nil {
		t.gate.Apply(*tr)
	}
	return true
}

func (t *Tracker) resolveAndTrack(ctx context.Context, pkg string) {
	for attempt := 1; attempt <= t.config.ResolveAttempts; attempt++ {
		found, err := t.pm.FindByCmdline(pkg)
		if err != nil {
			t.logger.Warn("process scan failed", zap.String("package", pkg), zap.Error(err))
		}
		if len(found) > 0 {
			for pid := range found {
				t.track(pid, pkg)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.config.ResolveInterval):
		}
	}

	// Stays marked running: the gate keeps protecting until a restart rescans.
	t.logger.Warn("could not resolve pid for started package",
		zap.String("package", pkg),
		zap.Int("attempts", t.config.ResolveAttempts))
}

func (t *Tracker) finishExit(exit Exit) {
	if exit.Gate != nil {
		t.gate.Apply(*exit.Gate)
	}
	if exit.PackageStopped {
		t.cleaner.Schedule(exit.Package, exit.Config.CachePath(exit.Package), exit.Config.CleanDelay())
	}
}
