package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher triggers a reload when the config file changes on disk.
// It watches the parent directory so editors and installers that replace the
// file by rename keep being observed.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	reload   func()
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
}

// NewConfigWatcher starts watching path's directory. The caller must call Run.
func NewConfigWatcher(path string, debounce time.Duration, reload func(), logger *zap.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &ConfigWatcher{
		path:     path,
		debounce: debounce,
		reload:   reload,
		watcher:  watcher,
		logger:   logger,
	}, nil
}

// Run consumes filesystem events until ctx is canceled. Bursts of writes
// collapse into one reload fired debounce after the last change.
func (w *ConfigWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				w.logger.Debug("ignoring config event", zap.String("op", event.Op.String()))
				continue
			}

			w.logger.Debug("config change detected",
				zap.String("op", event.Op.String()),
				zap.String("path", event.Name))

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.logger.Info("config file changed", zap.String("path", w.path))
				w.reload()
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
