package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

// PermissionManager creates working directories and extracted files with
// fixed permissions below a base directory.
type PermissionManager struct {
	BaseDir  string
	DirPerm  os.FileMode
	FilePerm os.FileMode
	Logger   *logger.Logger
}

// NewPermissionManager creates a new PermissionManager with the given configuration
func NewPermissionManager(baseDir string, dirPerm, filePerm os.FileMode, log *logger.Logger) *PermissionManager {
	return &PermissionManager{
		BaseDir:  baseDir,
		DirPerm:  dirPerm,
		FilePerm: filePerm,
		Logger:   log,
	}
}

// EnsureBaseDirectory creates the base directory if it doesn't exist
func (pm *PermissionManager) EnsureBaseDirectory() error {
	pm.Logger.WithField("base_dir", pm.BaseDir).Debug("Ensuring base directory exists")

	if err := os.MkdirAll(pm.BaseDir, pm.DirPerm); err != nil {
		pm.Logger.WithError(err).Error("Failed to create base directory")
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	return nil
}

// Resolve joins rel onto the base directory and rejects results that
// would land outside of it.
func (pm *PermissionManager) Resolve(rel string) (string, error) {
	target := filepath.Join(pm.BaseDir, filepath.FromSlash(rel))
	within, err := filepath.Rel(pm.BaseDir, target)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, pm.BaseDir)
	}
	return target, nil
}

// CreateParentDirectory creates the directories leading up to target.
func (pm *PermissionManager) CreateParentDirectory(target string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, pm.DirPerm); err != nil {
		pm.Logger.WithError(err).Error("Failed to create directory")
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// SetExecutable marks path as executable for its owner, group and others
// while keeping the configured file permission bits.
func (pm *PermissionManager) SetExecutable(path string) error {
	pm.Logger.WithField("path", path).Debug("Setting executable permissions")

	if err := os.Chmod(path, pm.FilePerm|0o111); err != nil {
		pm.Logger.WithError(err).Error("Failed to set executable permissions")
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	return nil
}
