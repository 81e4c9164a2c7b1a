package infra

import (
	"os"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// Sentinel locations shared with the specialization hook.
const (
	DefaultEnableFlagPath = "/data/local/tmp/deviceguard_enabled"
	DefaultReloadFlagPath = "/data/local/tmp/deviceguard_reload"
)

// SentinelFlags implements domain.FlagStore with marker files.
type SentinelFlags struct {
	enablePath string
	reloadPath string
}

// NewSentinelFlags creates a flag store over the given sentinel paths.
func NewSentinelFlags(enablePath, reloadPath string) *SentinelFlags {
	return &SentinelFlags{enablePath: enablePath, reloadPath: reloadPath}
}

// Enabled reports whether the feature-enable sentinel exists.
func (f *SentinelFlags) Enabled() bool {
	_, err := os.Stat(f.enablePath)
	return err == nil
}

// ConsumeReload checks for the reload sentinel and deletes it.
// Only the caller whose remove succeeds sees true.
func (f *SentinelFlags) ConsumeReload() bool {
	return os.Remove(f.reloadPath) == nil
}

// RequestReload creates the reload sentinel.
func (f *SentinelFlags) RequestReload() error {
	file, err := os.OpenFile(f.reloadPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return file.Close()
}

// Ensure SentinelFlags implements domain.FlagStore.
var _ domain.FlagStore = (*SentinelFlags)(nil)
