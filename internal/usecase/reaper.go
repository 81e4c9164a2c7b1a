package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// Reaper kills auxiliary processes configured in EXTRA_KILL_PROCESSES.
type Reaper struct {
	processManager domain.ProcessManager
	logger         *zap.Logger
}

// NewReaper creates a new auxiliary process reaper.
func NewReaper(pm domain.ProcessManager, logger *zap.Logger) *Reaper {
	return &Reaper{
		processManager: pm,
		logger:         logger,
	}
}

// Reap kills every process whose command line starts with one of names.
// Failures are logged and collected; they never stop the sweep.
func (r *Reaper) Reap(names []string) domain.ReapResult {
	start := time.Now()
	result := domain.ReapResult{
		KilledPIDs: make([]int, 0),
		Errors:     make([]error, 0),
		ExecutedAt: start,
	}

	for _, name := range names {
		pids, err := r.processManager.FindByCmdlinePrefix(name)
		if err != nil {
			r.logger.Warn("failed to find processes",
				zap.String("name", name),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}

		for _, pid := range pids {
			if err := r.processManager.Kill(pid); err != nil {
				r.logger.Warn("failed to kill process",
					zap.Int("pid", pid),
					zap.String("name", name),
					zap.Error(err))
				result.Errors = append(result.Errors, err)
			} else {
				r.logger.Info("killed auxiliary process",
					zap.Int("pid", pid),
					zap.String("name", name))
				result.KilledPIDs = append(result.KilledPIDs, pid)
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}
