// Package infra implements infrastructure concerns (process, filesystem, registry).
package infra

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByCmdline returns pid -> name for processes whose argv[0] equals one of names.
// Android app processes carry the package name as argv[0].
func (pm *ProcessManagerImpl) FindByCmdline(names ...string) (map[int]string, error) {
	found := make(map[int]string)
	if len(names) == 0 {
		return found, nil
	}

	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	for _, p := range procs {
		args, err := p.CmdlineSlice()
		if err != nil || len(args) == 0 {
			continue // Process may have exited or be a kernel thread
		}
		if _, ok := want[args[0]]; ok {
			found[int(p.Pid)] = args[0]
		}
	}

	return found, nil
}

// FindByCmdlinePrefix returns PIDs whose full command line starts with prefix.
func (pm *ProcessManagerImpl) FindByCmdlinePrefix(prefix string) ([]int, error) {
	if prefix == "" {
		return nil, nil
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var found []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.HasPrefix(cmdline, prefix) {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	if !validPID(pid) {
		return fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// kill(2) takes an int32 pid; a wider value would wrap to -1 and
	// address every process.
	if !validPID(pid) {
		return false
	}

	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes existence; EPERM still means the process is there.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func validPID(pid int) bool {
	return pid > 0 && pid <= math.MaxInt32
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
