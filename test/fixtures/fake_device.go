// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FakeDevice lays out the paths the companion touches under a temp root:
// a proc tree, the persist gate, per-app cache directories and the module config.
type FakeDevice struct {
	Root string
}

// NewFakeDevice creates a new fake device layout generator.
func NewFakeDevice(root string) *FakeDevice {
	return &FakeDevice{Root: root}
}

// Create creates the proc root and the gate directory.
func (d *FakeDevice) Create() error {
	if err := os.MkdirAll(d.ProcRoot(), 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(d.GatePath(), 0771); err != nil {
		return err
	}
	return os.Chmod(d.GatePath(), 0771)
}

// ProcRoot is the stand-in for /proc.
func (d *FakeDevice) ProcRoot() string {
	return filepath.Join(d.Root, "proc")
}

// GatePath is the stand-in for /mnt/vendor/persist.
func (d *FakeDevice) GatePath() string {
	return filepath.Join(d.Root, "mnt", "vendor", "persist")
}

// ConfigPath is the module config file.
func (d *FakeDevice) ConfigPath() string {
	return filepath.Join(d.Root, "config.sh")
}

// CacheTemplate mirrors the default template under Root.
func (d *FakeDevice) CacheTemplate() string {
	return filepath.Join(d.Root, "data", "user", "0", "%s", "files", "ano_tmp", "custom_cache")
}

// CachePath returns pkg's cache directory.
func (d *FakeDevice) CachePath(pkg string) string {
	return strings.Replace(d.CacheTemplate(), "%s", pkg, 1)
}

// Spawn makes pid appear in the proc root.
func (d *FakeDevice) Spawn(pid int) error {
	return os.Mkdir(filepath.Join(d.ProcRoot(), strconv.Itoa(pid)), 0555)
}

// Exit removes pid from the proc root, as the kernel does on process exit.
func (d *FakeDevice) Exit(pid int) error {
	return os.Remove(filepath.Join(d.ProcRoot(), strconv.Itoa(pid)))
}

// CreateCache fills pkg's cache directory with marker files.
func (d *FakeDevice) CreateCache(pkg string) error {
	dir := filepath.Join(d.CachePath(pkg), "shards")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, name := range []string{".marker", "shards/0.bin"} {
		if err := os.WriteFile(filepath.Join(d.CachePath(pkg), name), []byte("test"), 0644); err != nil {
			return err
		}
	}
	return nil
}

// CacheExists checks if pkg's cache directory exists.
func (d *FakeDevice) CacheExists(pkg string) bool {
	_, err := os.Stat(d.CachePath(pkg))
	return err == nil
}

// GateMode returns the gate's permission bits in octal.
func (d *FakeDevice) GateMode() string {
	info, err := os.Stat(d.GatePath())
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%03o", info.Mode().Perm())
}

// WriteConfig writes config.sh with the given packages, the fake cache
// template and any extra KEY=value settings.
func (d *FakeDevice) WriteConfig(packages []string, extra map[string]string) error {
	var b strings.Builder
	b.WriteString("# generated by fixtures\n")
	fmt.Fprintf(&b, "PACKAGES=%q\n", strings.Join(packages, " "))
	fmt.Fprintf(&b, "ANO_TMP_PATTERN=%s\n", d.CacheTemplate())

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, extra[k])
	}
	return os.WriteFile(d.ConfigPath(), []byte(b.String()), 0644)
}

// Cleanup removes the whole fake device.
func (d *FakeDevice) Cleanup() error {
	// The gate may have been closed to 000.
	_ = os.Chmod(d.GatePath(), 0755)
	return os.RemoveAll(d.Root)
}
