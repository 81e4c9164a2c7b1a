package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/dev_guard/internal/config"
	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

func testConfig(pkgs ...string) domain.Config {
	cfg := config.Default()
	cfg.Packages = pkgs
	return cfg
}

func fixedAdd(wd int) func(int) (int, error) {
	return func(int) (int, error) { return wd, nil }
}

func TestAllStopped_EmptyWatchedSetIsVacuouslyTrue(t *testing.T) {
	assert.True(t, AllStopped(map[string]bool{"x": true}, nil))
	assert.True(t, NewDaemonState(testConfig()).AllStopped())
}

func TestAllStopped_AbsentEntriesCountAsStopped(t *testing.T) {
	assert.True(t, AllStopped(map[string]bool{}, []string{"a", "b"}))
	assert.False(t, AllStopped(map[string]bool{"b": true}, []string{"a", "b"}))
}

func TestNewDaemonState_EntryForEveryWatchedPackage(t *testing.T) {
	s := NewDaemonState(testConfig("a", "b"))

	running := s.Running()
	require.Len(t, running, 2)
	assert.False(t, running["a"])
	assert.False(t, running["b"])
}

func TestDaemonState_MarkRunningAndExit(t *testing.T) {
	s := NewDaemonState(testConfig("a", "b"))

	s.MarkRunning("a")
	assert.False(t, s.AllStopped())

	s.MarkExited("a", 100)
	assert.True(t, s.AllStopped())
}

func TestMarkRunning_ReturnsRunningMode(t *testing.T) {
	s := NewDaemonState(testConfig("a"))

	tr := s.MarkRunning("a")

	assert.Equal(t, config.DefaultRunningPerm, tr.Mode)

	s.MarkExited("a", 0)
	assert.Equal(t, config.DefaultStoppedPerm, s.Current().Mode)
}

func TestRelease_ConsumesOnce(t *testing.T) {
	s := NewDaemonState(testConfig("a"))
	wd, _, err := s.Register(100, "a", fixedAdd(7))
	require.NoError(t, err)

	exit, ok := s.Release(wd)
	require.True(t, ok)
	assert.Equal(t, "a", exit.Package)
	assert.Equal(t, 100, exit.PID)
	assert.True(t, exit.PackageStopped)
	require.NotNil(t, exit.Gate)
	assert.Equal(t, config.DefaultStoppedPerm, exit.Gate.Mode)

	_, ok = s.Release(wd)
	assert.False(t, ok, "a consumed descriptor must not deliver twice")
}

func TestRelease_ReusedDescriptorNotAttributedToOldPackage(t *testing.T) {
	s := NewDaemonState(testConfig("a", "b"))

	_, _, err := s.Register(100, "a", fixedAdd(5))
	require.NoError(t, err)
	exit, ok := s.Release(5)
	require.True(t, ok)
	assert.Equal(t, "a", exit.Package)

	// Kernel hands descriptor 5 to a new watch.
	_, _, err = s.Register(200, "b", fixedAdd(5))
	require.NoError(t, err)

	exit, ok = s.Release(5)
	require.True(t, ok)
	assert.Equal(t, "b", exit.Package)
	assert.Equal(t, 200, exit.PID)
}

func TestRelease_OtherInstanceKeepsPackageRunning(t *testing.T) {
	s := NewDaemonState(testConfig("a"))
	_, _, err := s.Register(100, "a", fixedAdd(1))
	require.NoError(t, err)
	_, _, err = s.Register(101, "a", fixedAdd(2))
	require.NoError(t, err)

	exit, ok := s.Release(1)
	require.True(t, ok)
	assert.False(t, exit.PackageStopped)
	assert.Nil(t, exit.Gate)
	assert.True(t, s.Running()["a"])

	exit, ok = s.Release(2)
	require.True(t, ok)
	assert.True(t, exit.PackageStopped)
	assert.NotNil(t, exit.Gate)
}

func TestRelease_NotAllStoppedHasNoGate(t *testing.T) {
	s := NewDaemonState(testConfig("a", "b"))
	_, _, _ = s.Register(100, "a", fixedAdd(1))
	_, _, _ = s.Register(200, "b", fixedAdd(2))

	exit, ok := s.Release(1)
	require.True(t, ok)
	assert.True(t, exit.PackageStopped)
	assert.Nil(t, exit.Gate)
}

func TestReleaseIf_RequiresMatchingPID(t *testing.T) {
	s := NewDaemonState(testConfig("a"))
	_, _, _ = s.Register(100, "a", fixedAdd(3))

	_, ok := s.ReleaseIf(3, 999)
	assert.False(t, ok)

	_, ok = s.ReleaseIf(3, 100)
	assert.True(t, ok)
}

func TestRegister_FailureLeavesNoEntry(t *testing.T) {
	s := NewDaemonState(testConfig("a"))

	_, _, err := s.Register(100, "a", func(int) (int, error) { return -1, assert.AnError })

	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, s.Registrations())
	assert.False(t, s.Running()["a"])
}

func TestRegister_TransitionOnlyWhenPackageStarts(t *testing.T) {
	s := NewDaemonState(testConfig("a"))

	_, tr, err := s.Register(100, "a", fixedAdd(1))
	require.NoError(t, err)
	require.NotNil(t, tr, "stopped to running must reach the gate")
	assert.Equal(t, config.DefaultRunningPerm, tr.Mode)

	_, tr, err = s.Register(101, "a", fixedAdd(2))
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestRegister_AfterExitReturnsNewerTransition(t *testing.T) {
	s := NewDaemonState(testConfig("a"))
	_, _, _ = s.Register(100, "a", fixedAdd(1))

	exit, ok := s.Release(1)
	require.True(t, ok)
	require.NotNil(t, exit.Gate)

	_, tr, err := s.Register(101, "a", fixedAdd(2))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, config.DefaultRunningPerm, tr.Mode)
	assert.Greater(t, tr.Seq, exit.Gate.Seq)
}

func TestRelease_PendingLookupKeepsPackageRunning(t *testing.T) {
	s := NewDaemonState(testConfig("a"))
	_, _, _ = s.Register(100, "a", fixedAdd(1))
	s.BeginResolve("a")

	exit, ok := s.Release(1)
	require.True(t, ok)
	assert.False(t, exit.PackageStopped)
	assert.Nil(t, exit.Gate)
	assert.True(t, s.Running()["a"])

	s.EndResolve("a")
	exit = s.MarkExited("a", 100)
	assert.True(t, exit.PackageStopped)
}

func TestReconfigure_AddsEntriesAndKeepsExisting(t *testing.T) {
	s := NewDaemonState(testConfig("a"))
	s.MarkRunning("a")

	cfg := testConfig("a", "c")
	cfg.RunningPerm = "700"
	tr := s.Reconfigure(cfg)

	running := s.Running()
	assert.True(t, running["a"])
	_, ok := running["c"]
	assert.True(t, ok)
	assert.Equal(t, "700", tr.Mode)
	assert.Equal(t, []string{"a", "c"}, s.Config().Packages)
}

func TestTransition_SeqIncreases(t *testing.T) {
	s := NewDaemonState(testConfig("a"))

	first := s.MarkRunning("a")
	second := s.Current()

	assert.Greater(t, second.Seq, first.Seq)
}
