//go:build !linux

package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// DefaultProcRoot is where per-process control directories live.
const DefaultProcRoot = "/proc"

// DefaultEventIdle is how long the event loop idles when no data is pending.
const DefaultEventIdle = 100 * time.Millisecond

// ErrInotifyUnsupported is returned on platforms without inotify.
var ErrInotifyUnsupported = errors.New("inotify is only available on linux")

// InotifyWatcher is unavailable off linux.
type InotifyWatcher struct{}

// NewInotifyWatcher always fails off linux.
func NewInotifyWatcher(procRoot string, idle time.Duration, logger *zap.Logger) (*InotifyWatcher, error) {
	return nil, ErrInotifyUnsupported
}

func (w *InotifyWatcher) AddWatch(pid int) (int, error) { return -1, ErrInotifyUnsupported }

func (w *InotifyWatcher) RemoveWatch(wd int) error { return ErrInotifyUnsupported }

func (w *InotifyWatcher) Run(ctx context.Context, handle func(domain.WatchEvent)) {}

func (w *InotifyWatcher) Close() error { return nil }

var _ domain.ProcessWatcher = (*InotifyWatcher)(nil)
