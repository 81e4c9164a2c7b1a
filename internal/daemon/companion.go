// Package daemon implements the privileged companion daemon: the command
// socket, the startup sequence and the detached bootstrap.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/config"
	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
	"github.com/eliteGoblin/focusd/dev_guard/internal/infra"
	"github.com/eliteGoblin/focusd/dev_guard/internal/usecase"
)

// DefaultSocketPath is where the companion listens for notifier connections.
const DefaultSocketPath = "/data/local/tmp/devguard.sock"

// ErrWatcherInit means the liveness watcher could not be opened. The daemon
// cannot do its job without it.
var ErrWatcherInit = errors.New("failed to initialize process watcher")

// CompanionConfig holds process-level daemon settings.
type CompanionConfig struct {
	SocketPath      string
	ConfigPath      string
	GatePath        string
	EnableFlagPath  string
	ReloadFlagPath  string
	RegistryPath    string
	ProcRoot        string
	EventIdle       time.Duration // Sleep between empty watcher reads
	ConnReadTimeout time.Duration // Per-read deadline on companion connections
	WatchConfig     bool          // Reload when the config file changes on disk
	ConfigDebounce  time.Duration
	Version         string
	Tracker         usecase.TrackerConfig
}

// DefaultCompanionConfig returns default daemon configuration.
func DefaultCompanionConfig() CompanionConfig {
	return CompanionConfig{
		SocketPath:      DefaultSocketPath,
		ConfigPath:      config.DefaultPath,
		GatePath:        infra.DefaultGatePath,
		EnableFlagPath:  infra.DefaultEnableFlagPath,
		ReloadFlagPath:  infra.DefaultReloadFlagPath,
		RegistryPath:    infra.DefaultRegistryPath,
		ProcRoot:        infra.DefaultProcRoot,
		EventIdle:       infra.DefaultEventIdle,
		ConnReadTimeout: 5 * time.Second,
		WatchConfig:     true,
		ConfigDebounce:  500 * time.Millisecond,
		Tracker:         usecase.DefaultTrackerConfig(),
	}
}

// Companion is the long-lived daemon. It owns the tracker and serves the
// command socket.
type Companion struct {
	config   CompanionConfig
	store    domain.ConfigStore
	pm       domain.ProcessManager
	fs       domain.FileSystemManager
	gate     domain.PermissionGate
	flags    domain.FlagStore
	registry domain.DaemonRegistry
	logger   *zap.Logger

	openWatcher func(procRoot string, idle time.Duration, logger *zap.Logger) (domain.ProcessWatcher, error)

	mu      sync.Mutex
	tracker *usecase.Tracker
}

// NewCompanion creates a companion daemon.
func NewCompanion(
	config CompanionConfig,
	store domain.ConfigStore,
	pm domain.ProcessManager,
	fs domain.FileSystemManager,
	gate domain.PermissionGate,
	flags domain.FlagStore,
	registry domain.DaemonRegistry,
	logger *zap.Logger,
) *Companion {
	return &Companion{
		config:   config,
		store:    store,
		pm:       pm,
		fs:       fs,
		gate:     gate,
		flags:    flags,
		registry: registry,
		logger:   logger,
		openWatcher: func(procRoot string, idle time.Duration, logger *zap.Logger) (domain.ProcessWatcher, error) {
			return infra.NewInotifyWatcher(procRoot, idle, logger)
		},
	}
}

// Run executes the startup sequence and serves the command socket until ctx
// is canceled: open watcher, load config, scan running processes, start
// event consumption, accept commands.
func (c *Companion) Run(ctx context.Context) error {
	watcher, err := c.openWatcher(c.config.ProcRoot, c.config.EventIdle, c.logger)
	if err != nil {
		c.logger.Error("watcher init failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrWatcherInit, err)
	}
	defer watcher.Close()

	cfg := c.store.Load()
	tracker := c.buildTracker(cfg, watcher)

	// A sentinel left over from before this start is already reflected in cfg.
	c.flags.ConsumeReload()

	tracker.ScanExisting()

	var background sync.WaitGroup
	defer background.Wait()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	background.Add(1)
	go func() {
		defer background.Done()
		watcher.Run(runCtx, tracker.HandleEvent)
	}()

	if c.config.WatchConfig {
		cw, err := NewConfigWatcher(c.store.Path(), c.config.ConfigDebounce, c.reload, c.logger)
		if err != nil {
			c.logger.Warn("config file watcher disabled", zap.Error(err))
		} else {
			background.Add(1)
			go func() {
				defer background.Done()
				cw.Run(runCtx)
			}()
		}
	}

	ln, err := c.listen()
	if err != nil {
		c.logger.Error("failed to listen", zap.String("socket", c.config.SocketPath), zap.Error(err))
		return err
	}
	defer os.Remove(c.config.SocketPath)

	c.register()
	defer func() {
		if err := c.registry.Clear(); err != nil {
			c.logger.Warn("failed to clear registry", zap.Error(err))
		}
	}()

	c.logger.Info("companion daemon started",
		zap.Int("pid", os.Getpid()),
		zap.String("socket", c.config.SocketPath),
		zap.Strings("packages", cfg.Packages))

	server := NewCompanionServer(c, c.config.ConnReadTimeout, c.logger)
	err = server.Serve(runCtx, ln)

	c.logger.Info("companion daemon stopping")
	return err
}

// AppStarted implements Handler.
func (c *Companion) AppStarted(ctx context.Context, ev domain.AppStarted) {
	c.Tracker().AppStarted(ctx, ev)
}

// ConfigChanged implements Handler. The reload sentinel is consumed and the
// config is reloaded unconditionally.
func (c *Companion) ConfigChanged(ctx context.Context) {
	if c.flags.ConsumeReload() {
		c.logger.Debug("reload sentinel consumed")
	}
	c.reload()
}

// Tracker returns the running tracker, nil before Run.
func (c *Companion) Tracker() *usecase.Tracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker
}

func (c *Companion) buildTracker(cfg domain.Config, watcher domain.ProcessWatcher) *usecase.Tracker {
	tracker := usecase.NewTracker(
		c.config.Tracker,
		usecase.NewDaemonState(cfg),
		usecase.NewGateController(c.gate, c.logger),
		watcher,
		c.pm,
		usecase.NewReaper(c.pm, c.logger),
		usecase.NewCleanupScheduler(c.fs, c.logger),
		c.logger,
	)

	c.mu.Lock()
	c.tracker = tracker
	c.mu.Unlock()
	return tracker
}

func (c *Companion) reload() {
	cfg := c.store.Load()
	c.logger.Info("reloading config",
		zap.String("path", c.store.Path()),
		zap.Strings("packages", cfg.Packages))
	c.Tracker().Reload(cfg)
}

func (c *Companion) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(c.config.SocketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	// Remove a socket left by a previous instance.
	if err := os.Remove(c.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", c.config.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	return ln, nil
}

func (c *Companion) register() {
	rec := domain.DaemonRecord{
		PID:        os.Getpid(),
		SocketPath: c.config.SocketPath,
		StartedAt:  time.Now().Unix(),
		AppVersion: c.config.Version,
	}
	if err := c.registry.Register(rec); err != nil {
		c.logger.Warn("failed to register daemon", zap.Error(err))
	}
}
