package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct{}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	return &FileSystemManagerImpl{}
}

// Delete removes a file or directory recursively.
// Handles glob patterns in the path, so a template like
// /data/user/*/%s/cache covers every Android user.
func (fm *FileSystemManagerImpl) Delete(path string) error {
	if path == "" || path == "/" {
		return errors.New("refusing to delete root or empty path")
	}

	// Check if path contains glob patterns
	if strings.ContainsAny(path, "*?[") {
		return fm.deleteGlob(path)
	}

	// RemoveAll returns nil for a missing path
	return os.RemoveAll(path)
}

// deleteGlob handles deletion of paths matching glob patterns.
func (fm *FileSystemManagerImpl) deleteGlob(pattern string) error {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	var errs []error
	for _, match := range matches {
		if err := os.RemoveAll(match); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
