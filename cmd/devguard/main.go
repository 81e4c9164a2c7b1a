// Package main is the CLI entry point for devguard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/dev_guard/internal/config"
	"github.com/eliteGoblin/focusd/dev_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
	"github.com/eliteGoblin/focusd/dev_guard/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

const (
	logPath      = "/data/local/tmp/devguard.log"
	errorLogPath = "/data/local/tmp/devguard.error.log"
	dialTimeout  = 2 * time.Second
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devguard",
	Short: "Storage permission guard companion",
	Long: `devguard is the privileged companion of the DeviceGuard module.
While a watched app runs it closes the vendor persist partition to
storage inspection, restores it once every watched app has exited and
purges the app's anti-tamper cache after a cooldown.`,
	Version:      Version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the companion daemon in the background",
	Long:  `Starts the companion daemon detached from the terminal unless one is already running.`,
	RunE:  runStart,
}

var notifyCmd = &cobra.Command{
	Use:   "notify <package>",
	Short: "Report that a watched app started",
	Long: `Sends an app-started notification to the companion, the same frame the
specialization hook sends. Refuses to send while the feature is disabled
unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runNotify,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the module config into the running daemon",
	RunE:  runReload,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, config and gate status",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec and by the module's service script
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	companionConfig = daemon.DefaultCompanionConfig()
	notifyPID       int
	notifyForce     bool
	jsonOutput      bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&companionConfig.SocketPath, "socket", companionConfig.SocketPath, "Companion socket path")
	pf.StringVar(&companionConfig.ConfigPath, "config", companionConfig.ConfigPath, "Module config file")
	pf.StringVar(&companionConfig.GatePath, "gate", companionConfig.GatePath, "Permission gate path")
	pf.StringVar(&companionConfig.EnableFlagPath, "enable-flag", companionConfig.EnableFlagPath, "Feature-enable sentinel")
	pf.StringVar(&companionConfig.ReloadFlagPath, "reload-flag", companionConfig.ReloadFlagPath, "Reload sentinel")
	pf.StringVar(&companionConfig.RegistryPath, "registry", companionConfig.RegistryPath, "Daemon registry file")

	daemonCmd.Flags().StringVar(&companionConfig.ProcRoot, "proc", companionConfig.ProcRoot, "procfs mount point")
	daemonCmd.Flags().BoolVar(&companionConfig.WatchConfig, "watch-config", companionConfig.WatchConfig, "Reload when the config file changes")

	notifyCmd.Flags().IntVar(&notifyPID, "pid", 0, "Process id of the started app (resolved by the daemon when omitted)")
	notifyCmd.Flags().BoolVar(&notifyForce, "force", false, "Send even when the feature is disabled")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(companionConfig.RegistryPath, pm)

	if alive, _ := registry.IsAlive(); alive {
		rec, _ := registry.Get()
		fmt.Printf("devguard is already running (pid %d)\n", rec.PID)
		return nil
	}

	pid, err := daemon.StartDaemon(companionConfig)
	if err != nil {
		return err
	}

	// Wait a moment for the daemon to register
	time.Sleep(500 * time.Millisecond)

	if alive, _ := registry.IsAlive(); !alive {
		return fmt.Errorf("daemon (pid %d) did not come up, see %s", pid, errorLogPath)
	}

	fmt.Printf("devguard started (pid %d)\n", pid)
	fmt.Printf("Socket: %s\n", companionConfig.SocketPath)
	return nil
}

func runNotify(cmd *cobra.Command, args []string) error {
	pkg := args[0]
	if !domain.ValidPackage(pkg) {
		return fmt.Errorf("invalid package name: %q", pkg)
	}

	flags := infra.NewSentinelFlags(companionConfig.EnableFlagPath, companionConfig.ReloadFlagPath)
	if !flags.Enabled() && !notifyForce {
		return fmt.Errorf("feature disabled (%s missing), use --force to send anyway", companionConfig.EnableFlagPath)
	}

	return send(func(w io.Writer) error {
		return daemon.WriteAppStarted(w, pkg, notifyPID)
	})
}

func runReload(cmd *cobra.Command, args []string) error {
	flags := infra.NewSentinelFlags(companionConfig.EnableFlagPath, companionConfig.ReloadFlagPath)
	if err := flags.RequestReload(); err != nil {
		return fmt.Errorf("failed to create reload sentinel: %w", err)
	}

	if err := send(daemon.WriteConfigChanged); err != nil {
		fmt.Println("Daemon not reachable; the config is picked up on next start.")
		return err
	}
	fmt.Println("Reload requested")
	return nil
}

func send(write func(w io.Writer) error) error {
	conn, err := net.DialTimeout("unix", companionConfig.SocketPath, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(dialTimeout)); err != nil {
		return err
	}
	return write(conn)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(companionConfig.RegistryPath, pm)
	flags := infra.NewSentinelFlags(companionConfig.EnableFlagPath, companionConfig.ReloadFlagPath)
	gate := infra.NewChmodGate(companionConfig.GatePath)
	cfg := config.NewFileStore(companionConfig.ConfigPath, zap.NewNop()).Load()

	fmt.Println("\n=== devguard Status ===")

	rec, err := registry.Get()
	alive, _ := registry.IsAlive()
	switch {
	case err != nil:
		fmt.Printf("Daemon: UNKNOWN (%v)\n", err)
	case rec == nil || !alive:
		fmt.Println("Daemon: NOT RUNNING")
	default:
		fmt.Printf("Daemon: RUNNING (pid %d, up %s)\n", rec.PID,
			time.Since(time.Unix(rec.StartedAt, 0)).Round(time.Second))
	}
	fmt.Printf("Registry: %s\n", registry.GetRegistryPath())

	fmt.Printf("Execution mode: %s\n", infra.DetectExecMode().Mode)

	if flags.Enabled() {
		fmt.Println("Feature: enabled")
	} else {
		fmt.Println("Feature: disabled")
	}

	if mode, err := gate.Mode(); err != nil {
		fmt.Printf("Gate %s: unreadable (%v)\n", gate.Path(), err)
	} else {
		state := "closed (app running)"
		if mode == cfg.StoppedPerm {
			state = "open"
		}
		fmt.Printf("Gate %s: %s, %s\n", gate.Path(), mode, state)
	}

	fmt.Printf("\nConfig: %s\n", companionConfig.ConfigPath)
	fmt.Printf("  Packages: %s\n", strings.Join(cfg.Packages, " "))
	fmt.Printf("  Modes: running %s, stopped %s\n", cfg.RunningPerm, cfg.StoppedPerm)
	fmt.Printf("  Cache: %s (after %s)\n", cfg.CacheTemplate, cfg.CleanDelay())
	if len(cfg.ExtraKill) > 0 {
		fmt.Printf("  Extra kill: %s\n", strings.Join(cfg.ExtraKill, " "))
	}
	fmt.Println("=======================")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Set up logger (writes to /data/local/tmp/devguard.log)
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	companionConfig.Version = Version

	execMode := infra.DetectExecMode()
	if !execMode.IsRoot {
		logger.Warn("daemon is not running as root",
			zap.Int("uid", execMode.UID),
			zap.String("gate", companionConfig.GatePath))
	}

	pm := infra.NewProcessManager()
	companion := daemon.NewCompanion(
		companionConfig,
		config.NewFileStore(companionConfig.ConfigPath, logger),
		pm,
		infra.NewFileSystemManager(),
		infra.NewChmodGate(companionConfig.GatePath),
		infra.NewSentinelFlags(companionConfig.EnableFlagPath, companionConfig.ReloadFlagPath),
		infra.NewFileRegistry(companionConfig.RegistryPath, pm),
		logger,
	)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return companion.Run(ctx)
}

func createLogger() *zap.Logger {
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{logPath}
	zapConfig.ErrorOutputPaths = []string{errorLogPath}
	zapConfig.EncoderConfig.TimeKey = "time"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
	} else {
		fmt.Printf("devguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
