package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// mockProcessManager implements domain.ProcessManager for testing
type mockProcessManager struct {
	mu         sync.Mutex
	cmdlines   map[int]string // pid -> full command line
	running    map[int]bool
	findErr    error
	killErr    error
	killedPIDs []int
	findCalls  int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		cmdlines: make(map[int]string),
		running:  make(map[int]bool),
	}
}

func (m *mockProcessManager) spawn(pid int, cmdline string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmdlines[pid] = cmdline
	m.running[pid] = true
}

func (m *mockProcessManager) exit(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cmdlines, pid)
	delete(m.running, pid)
}

func (m *mockProcessManager) FindByCmdline(names ...string) (map[int]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	found := make(map[int]string)
	for pid, cmdline := range m.cmdlines {
		argv0 := strings.Fields(cmdline)
		if len(argv0) == 0 {
			continue
		}
		for _, n := range names {
			if argv0[0] == n {
				found[pid] = n
			}
		}
	}
	return found, nil
}

func (m *mockProcessManager) FindByCmdlinePrefix(prefix string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var pids []int
	for pid, cmdline := range m.cmdlines {
		if strings.HasPrefix(cmdline, prefix) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killErr != nil {
		return m.killErr
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.cmdlines, pid)
	delete(m.running, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[pid]
}

// mockWatcher implements domain.ProcessWatcher for testing.
// Descriptors are handed out like the kernel does: watching the same pid
// twice returns the same descriptor, and freed descriptors can be reused.
type mockWatcher struct {
	mu      sync.Mutex
	next    int
	active  map[int]int // wd -> pid
	reuse   []int
	addErr  map[int]error
	removed []int
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{next: 1, active: make(map[int]int), addErr: make(map[int]error)}
}

func (m *mockWatcher) AddWatch(pid int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.addErr[pid]; err != nil {
		return -1, err
	}
	for wd, p := range m.active {
		if p == pid {
			return wd, nil
		}
	}
	var wd int
	if len(m.reuse) > 0 {
		wd, m.reuse = m.reuse[0], m.reuse[1:]
	} else {
		wd = m.next
		m.next++
	}
	m.active[wd] = pid
	return wd, nil
}

// vanish simulates the kernel dropping the watch for pid and returns its descriptor.
func (m *mockWatcher) vanish(pid int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for wd, p := range m.active {
		if p == pid {
			delete(m.active, wd)
			m.reuse = append(m.reuse, wd)
			return wd
		}
	}
	return -1
}

func (m *mockWatcher) RemoveWatch(wd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, wd)
	delete(m.active, wd)
	return nil
}

func (m *mockWatcher) Run(ctx context.Context, handle func(domain.WatchEvent)) {
	<-ctx.Done()
}

func (m *mockWatcher) Close() error { return nil }

// mockGate implements domain.PermissionGate for testing
type mockGate struct {
	mu       sync.Mutex
	applyErr error
	modes    []string
}

func (m *mockGate) Apply(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.modes = append(m.modes, mode)
	return nil
}

func (m *mockGate) Mode() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.modes) == 0 {
		return "", errors.New("never applied")
	}
	return m.modes[len(m.modes)-1], nil
}

func (m *mockGate) Path() string { return "/mnt/vendor/persist" }

func (m *mockGate) last() string {
	mode, _ := m.Mode()
	return mode
}

// mockCleaner records scheduled purges.
type mockCleaner struct {
	mu        sync.Mutex
	scheduled []scheduledPurge
}

type scheduledPurge struct {
	pkg   string
	path  string
	delay time.Duration
}

func (m *mockCleaner) Schedule(pkg, path string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, scheduledPurge{pkg: pkg, path: path, delay: delay})
}

func (m *mockCleaner) calls() []scheduledPurge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scheduledPurge(nil), m.scheduled...)
}

// mockFileSystemManager implements domain.FileSystemManager for testing
type mockFileSystemManager struct {
	mu           sync.Mutex
	deleteErr    error
	deletedPaths []string
}

func (m *mockFileSystemManager) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedPaths = append(m.deletedPaths, path)
	return nil
}

func (m *mockFileSystemManager) deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletedPaths...)
}
