package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// GateController serializes gate I/O outside the state lock and drops
// transitions that a newer snapshot has already superseded.
type GateController struct {
	gate    domain.PermissionGate
	logger  *zap.Logger
	mu      sync.Mutex
	applied uint64
	mode    string
}

// NewGateController wraps gate.
func NewGateController(gate domain.PermissionGate, logger *zap.Logger) *GateController {
	return &GateController{gate: gate, logger: logger}
}

// Apply sets the gate to tr.Mode unless a newer transition was applied first.
// Failures are logged; the gate may be left at its previous mode.
func (g *GateController) Apply(tr Transition) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tr.Seq < g.applied {
		g.logger.Debug("skipping stale gate transition",
			zap.String("mode", tr.Mode),
			zap.Uint64("seq", tr.Seq),
			zap.Uint64("applied", g.applied))
		return
	}
	g.applied = tr.Seq

	if err := g.gate.Apply(tr.Mode); err != nil {
		g.logger.Warn("failed to apply gate mode",
			zap.String("path", g.gate.Path()),
			zap.String("mode", tr.Mode),
			zap.Error(err))
		return
	}
	if g.mode != tr.Mode {
		g.logger.Info("gate mode set",
			zap.String("path", g.gate.Path()),
			zap.String("mode", tr.Mode))
	}
	g.mode = tr.Mode
}
