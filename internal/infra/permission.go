package infra

import (
	"fmt"
	"os"

	"github.com/eliteGoblin/focusd/dev_guard/internal/config"
	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// DefaultGatePath is the vendor persist mount toggled by the gate.
const DefaultGatePath = "/mnt/vendor/persist"

// ChmodGate implements domain.PermissionGate with chmod on a fixed path.
type ChmodGate struct {
	path string
}

// NewChmodGate creates a gate over path.
func NewChmodGate(path string) *ChmodGate {
	return &ChmodGate{path: path}
}

// Path returns the gated path.
func (g *ChmodGate) Path() string {
	return g.path
}

// Apply parses mode as octal and chmods the gate path.
func (g *ChmodGate) Apply(mode string) error {
	m, err := config.ParseMode(mode)
	if err != nil {
		return err
	}
	if err := os.Chmod(g.path, m); err != nil {
		return fmt.Errorf("chmod %s %s: %w", mode, g.path, err)
	}
	return nil
}

// Mode returns the current permission bits of the gate path in octal.
func (g *ChmodGate) Mode() (string, error) {
	info, err := os.Stat(g.path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03o", info.Mode().Perm()), nil
}

// Ensure ChmodGate implements domain.PermissionGate.
var _ domain.PermissionGate = (*ChmodGate)(nil)
