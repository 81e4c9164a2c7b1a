// Package config loads the watched package policy from the module's
// shell-style key=value config file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// DefaultPath is where the module installer drops config.sh.
const DefaultPath = "/data/adb/modules/DeviceGuard_Zygisk/config.sh"

// Defaults used when the config file is absent or a field is malformed.
const (
	DefaultCacheTemplate     = "/data/user/0/%s/files/ano_tmp/custom_cache"
	DefaultRunningPerm       = "000"
	DefaultStoppedPerm       = "771"
	DefaultCleanDelaySeconds = 30
	MaxCleanDelaySeconds     = 24 * 60 * 60
)

// Recognized keys.
const (
	KeyPackages    = "PACKAGES"
	KeyTemplate    = "ANO_TMP_PATTERN"
	KeyStoppedPerm = "PERSIST_STOPPED_PERM"
	KeyRunningPerm = "PERSIST_RUNNING_PERM"
	KeyExtraKill   = "EXTRA_KILL_PROCESSES"
	KeyCleanDelay  = "CLEAN_DELAY_SECONDS"
)

// Field errors. Parse keeps the default for the field and reports one of these.
var (
	ErrMalformedDelay    = errors.New("malformed clean delay")
	ErrMalformedPerm     = errors.New("malformed permission mode")
	ErrMalformedTemplate = errors.New("cache template must contain exactly one %s")
	ErrInvalidPackage    = errors.New("invalid package identity")
)

// DefaultPackages is the built-in watched set.
func DefaultPackages() []string {
	return []string{"com.tencent.tmgp.pubgmhd", "com.tencent.tmgp.sgame"}
}

// Default returns the built-in config.
func Default() domain.Config {
	return domain.Config{
		Packages:          DefaultPackages(),
		RunningPerm:       DefaultRunningPerm,
		StoppedPerm:       DefaultStoppedPerm,
		CacheTemplate:     DefaultCacheTemplate,
		CleanDelaySeconds: DefaultCleanDelaySeconds,
	}
}

// Parse reads key=value lines from r. Unknown keys are ignored.
// Malformed fields keep their default and are reported in the returned slice;
// only a read failure is returned as the error.
// A file without a PACKAGES line watches the default packages;
// an explicit empty PACKAGES watches nothing.
func Parse(r io.Reader) (domain.Config, []error, error) {
	cfg := Default()
	var fieldErrs []error
	sawPackages := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, val, ok := splitLine(scanner.Text())
		if !ok {
			continue
		}

		switch key {
		case KeyPackages:
			sawPackages = true
			cfg.Packages = nil
			for _, pkg := range strings.Fields(val) {
				if !domain.ValidPackage(pkg) {
					fieldErrs = append(fieldErrs, fmt.Errorf("line %d: %w: %q", lineNo, ErrInvalidPackage, pkg))
					continue
				}
				cfg.Packages = append(cfg.Packages, pkg)
			}
		case KeyTemplate:
			if val == "" {
				continue
			}
			if strings.Count(val, domain.PackageSlot) != 1 || strings.Count(val, "%") != 1 {
				fieldErrs = append(fieldErrs, fmt.Errorf("line %d: %w: %q", lineNo, ErrMalformedTemplate, val))
				continue
			}
			cfg.CacheTemplate = val
		case KeyStoppedPerm, KeyRunningPerm:
			if val == "" {
				continue
			}
			if _, err := ParseMode(val); err != nil {
				fieldErrs = append(fieldErrs, fmt.Errorf("line %d: %s: %w", lineNo, key, err))
				continue
			}
			if key == KeyStoppedPerm {
				cfg.StoppedPerm = val
			} else {
				cfg.RunningPerm = val
			}
		case KeyExtraKill:
			cfg.ExtraKill = strings.Fields(val)
		case KeyCleanDelay:
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 || n > MaxCleanDelaySeconds {
				fieldErrs = append(fieldErrs, fmt.Errorf("line %d: %w: %q", lineNo, ErrMalformedDelay, val))
				continue
			}
			cfg.CleanDelaySeconds = n
		}
	}
	if err := scanner.Err(); err != nil {
		return Default(), fieldErrs, err
	}

	if !sawPackages {
		cfg.Packages = DefaultPackages()
	}
	return cfg, fieldErrs, nil
}

// ParseMode parses an octal permission string such as "771".
func ParseMode(s string) (os.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPerm, s)
	}
	if n > 0o777 {
		return 0, fmt.Errorf("%w: %q out of range", ErrMalformedPerm, s)
	}
	return os.FileMode(n), nil
}

// splitLine extracts KEY and the unquoted value from a config.sh line.
func splitLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), unquote(strings.TrimSpace(val)), true
}

func unquote(val string) string {
	if len(val) >= 2 {
		first, last := val[0], val[len(val)-1]
		if (first == '"' || first == '\'') && last == first {
			return val[1 : len(val)-1]
		}
	}
	return val
}

// FileStore implements domain.ConfigStore on top of a config.sh file.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a store reading path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the config file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the config file. A missing or unreadable file yields Default().
func (s *FileStore) Load() domain.Config {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot open config, using defaults",
				zap.String("path", s.path),
				zap.Error(err))
		} else {
			s.logger.Info("no config file, using defaults", zap.String("path", s.path))
		}
		return Default()
	}
	defer f.Close()

	cfg, fieldErrs, err := Parse(f)
	for _, fe := range fieldErrs {
		s.logger.Warn("ignoring malformed config field", zap.String("path", s.path), zap.Error(fe))
	}
	if err != nil {
		s.logger.Warn("failed to read config, using defaults", zap.String("path", s.path), zap.Error(err))
		return Default()
	}

	s.logger.Info("config loaded",
		zap.String("path", s.path),
		zap.Strings("packages", cfg.Packages),
		zap.String("running_perm", cfg.RunningPerm),
		zap.String("stopped_perm", cfg.StoppedPerm),
		zap.Int("clean_delay_seconds", cfg.CleanDelaySeconds))
	return cfg
}

// Ensure FileStore implements domain.ConfigStore.
var _ domain.ConfigStore = (*FileStore)(nil)
