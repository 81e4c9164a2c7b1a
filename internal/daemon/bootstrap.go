package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// DaemonArgs builds the argument list for the hidden daemon command.
// Only settings that differ from the defaults are passed through.
func DaemonArgs(cfg CompanionConfig) []string {
	def := DefaultCompanionConfig()
	args := []string{"daemon"}

	add := func(flag, val, defVal string) {
		if val != defVal {
			args = append(args, "--"+flag, val)
		}
	}
	add("socket", cfg.SocketPath, def.SocketPath)
	add("config", cfg.ConfigPath, def.ConfigPath)
	add("gate", cfg.GatePath, def.GatePath)
	add("enable-flag", cfg.EnableFlagPath, def.EnableFlagPath)
	add("reload-flag", cfg.ReloadFlagPath, def.ReloadFlagPath)
	add("registry", cfg.RegistryPath, def.RegistryPath)
	add("proc", cfg.ProcRoot, def.ProcRoot)
	if !cfg.WatchConfig {
		args = append(args, "--watch-config=false")
	}
	return args
}

// StartDaemon spawns the companion daemon from our own executable.
// The daemon is detached from the parent process (runs independently).
func StartDaemon(cfg CompanionConfig) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, DaemonArgs(cfg)...)

	// New session: survives the shell that ran "start".
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}

	pid := cmd.Process.Pid
	// Not waited on; the child is reparented once we exit.
	_ = cmd.Process.Release()
	return pid, nil
}
