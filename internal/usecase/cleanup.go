package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// Cleaner schedules deferred cache purges.
type Cleaner interface {
	Schedule(pkg, path string, delay time.Duration)
}

// CleanupScheduler purges cache directories after a cooldown.
// Every Schedule call gets its own timer: overlapping purges of the same
// path may run, and removal of an already-removed path is not an error.
type CleanupScheduler struct {
	fsManager domain.FileSystemManager
	logger    *zap.Logger
	pending   sync.WaitGroup
}

// NewCleanupScheduler creates a scheduler deleting through fs.
func NewCleanupScheduler(fs domain.FileSystemManager, logger *zap.Logger) *CleanupScheduler {
	return &CleanupScheduler{fsManager: fs, logger: logger}
}

// Schedule removes path after delay without blocking the caller.
func (c *CleanupScheduler) Schedule(pkg, path string, delay time.Duration) {
	c.pending.Add(1)
	c.logger.Debug("cache purge scheduled",
		zap.String("package", pkg),
		zap.String("path", path),
		zap.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		defer c.pending.Done()
		c.purge(pkg, path)
	})
}

// Wait blocks until every scheduled purge has run.
func (c *CleanupScheduler) Wait() {
	c.pending.Wait()
}

func (c *CleanupScheduler) purge(pkg, path string) {
	if err := c.fsManager.Delete(path); err != nil {
		c.logger.Warn("failed to purge cache",
			zap.String("package", pkg),
			zap.String("path", path),
			zap.Error(err))
		return
	}
	c.logger.Info("cache purged",
		zap.String("package", pkg),
		zap.String("path", path))
}

// Ensure CleanupScheduler implements Cleaner.
var _ Cleaner = (*CleanupScheduler)(nil)
