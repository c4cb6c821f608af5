package selfupdate

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/CloudNativeWorks/volzip/internal/operations/common"
	"github.com/CloudNativeWorks/volzip/internal/operations/files"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/CloudNativeWorks/volzip/pkg/template"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/klauspost/compress/flate"
)

const (
	// maxEntryBytes bounds a single extracted file.
	maxEntryBytes = 512 << 20

	DefaultGracePeriod = 2 * time.Second
)

// Test seams.
var (
	osExecutable = os.Executable
	evalSymlinks = filepath.EvalSymlinks
	sdNotify     = daemon.SdNotify
)

// Launcher starts a process that outlives the caller.
// cmdrunner.CommandsRunner implements it.
type Launcher interface {
	StartDetached(cmd string, args ...string) (pid int, err error)
}

// StagedInstall is an extracted update waiting for the running process
// to exit.
type StagedInstall struct {
	ScriptPath    string
	ScratchDir    string
	NewExecutable string
	Target        string
}

type Installer struct {
	executableName string
	target         string
	tempDir        string
	grace          time.Duration
	goos           string
	relaunchArgs   []string
	launcher       Launcher
	log            *logger.Logger
}

type InstallerOption func(*Installer)

// WithTarget sets the executable to replace instead of the running one.
func WithTarget(path string) InstallerOption {
	return func(i *Installer) {
		i.target = path
	}
}

// WithTempDir sets where scratch directories and scripts are created.
func WithTempDir(dir string) InstallerOption {
	return func(i *Installer) {
		i.tempDir = dir
	}
}

func WithGracePeriod(d time.Duration) InstallerOption {
	return func(i *Installer) {
		if d >= 0 {
			i.grace = d
		}
	}
}

// WithRelaunchArgs sets the arguments the new executable is started with.
func WithRelaunchArgs(args ...string) InstallerOption {
	return func(i *Installer) {
		i.relaunchArgs = args
	}
}

// WithGOOS selects the script flavour. Defaults to runtime.GOOS.
func WithGOOS(goos string) InstallerOption {
	return func(i *Installer) {
		i.goos = goos
	}
}

func NewInstaller(executableName string, launcher Launcher, opts ...InstallerOption) *Installer {
	i := &Installer{
		executableName: executableName,
		grace:          DefaultGracePeriod,
		goos:           runtime.GOOS,
		launcher:       launcher,
		log:            logger.NewLogger("installer"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Stage unpacks packagePath, looks for the executable and writes the
// install script. The package is removed whatever the result; the
// scratch directory is removed unless staging succeeds.
func (i *Installer) Stage(packagePath string) (*StagedInstall, error) {
	log := i.log.WithField("package", packagePath)
	defer files.DeleteFiles([]string{packagePath}, i.log)

	target, err := i.resolveTarget()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	workDir := i.tempDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := common.NewPermissionManager(workDir, 0o755, 0o644, i.log).EnsureBaseDirectory(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	scratch, err := os.MkdirTemp(workDir, "volzip-update-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating scratch directory: %w", ErrInstallFailed, err)
	}
	staged := false
	defer func() {
		if !staged {
			files.DeleteDirectories([]string{scratch}, i.log)
		}
	}()

	pm := common.NewPermissionManager(scratch, 0o755, 0o755, i.log)
	if err := extractPackage(packagePath, pm, i.log); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	newExe, err := findExecutable(scratch, i.executableName)
	if err != nil {
		log.WithField("name", i.executableName).Warn("package does not contain the executable")
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	if err := pm.SetExecutable(newExe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	script, ext, err := template.InstallScript(i.goos, template.InstallScriptData{
		PID:           os.Getpid(),
		GraceSeconds:  int(math.Ceil(i.grace.Seconds())),
		Target:        target,
		Backup:        target + ".bak",
		NewExecutable: newExe,
		ScratchDir:    scratch,
		RelaunchArgs:  i.relaunchArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	scriptPath, err := files.WriteScript(workDir, "volzip-install", ext, script)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	staged = true
	log.WithFields(logger.Fields{
		"target": target,
		"script": scriptPath,
	}).Info("update staged")

	return &StagedInstall{
		ScriptPath:    scriptPath,
		ScratchDir:    scratch,
		NewExecutable: newExe,
		Target:        target,
	}, nil
}

// Handoff starts the staged script detached and tells systemd, when
// running under it, that the service is stopping. The caller is expected
// to exit right after.
func (i *Installer) Handoff(ctx context.Context, staged *StagedInstall) error {
	if staged == nil {
		return fmt.Errorf("%w: nothing staged", ErrInstallFailed)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	cmd, args := "/bin/sh", []string{staged.ScriptPath}
	if i.goos == "windows" {
		cmd, args = "cmd.exe", []string{"/C", staged.ScriptPath}
	}

	pid, err := i.launcher.StartDetached(cmd, args...)
	if err != nil {
		return fmt.Errorf("%w: starting install script: %w", ErrInstallFailed, err)
	}
	i.log.WithFields(logger.Fields{
		"script": staged.ScriptPath,
		"pid":    pid,
	}).Info("install script started, exiting for replacement")

	if sent, err := sdNotify(false, daemon.SdNotifyStopping); err != nil {
		i.log.WithError(err).Warn("failed to notify systemd")
	} else if sent {
		i.log.Debug("notified systemd: stopping")
	}
	return nil
}

func (i *Installer) resolveTarget() (string, error) {
	if i.target != "" {
		return filepath.Abs(i.target)
	}
	exe, err := osExecutable()
	if err != nil {
		return "", fmt.Errorf("locating running executable: %w", err)
	}
	resolved, err := evalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", exe, err)
	}
	return resolved, nil
}

// extractPackage unpacks the zip at path below pm.BaseDir. Entries that
// would land outside of it and symlinks are refused.
func extractPackage(path string, pm *common.PermissionManager, log *logger.Logger) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening package: %w", err)
	}
	defer zr.Close()
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	for _, f := range zr.File {
		target, err := pm.Resolve(f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, pm.DirPerm); err != nil {
				return fmt.Errorf("creating %s: %w", f.Name, err)
			}
			continue
		case mode&fs.ModeSymlink != 0:
			return fmt.Errorf("package entry %s is a symlink", f.Name)
		}

		if err := pm.CreateParentDirectory(target); err != nil {
			return err
		}
		if err := extractFile(f, target, mode.Perm()|0o600); err != nil {
			return err
		}
	}
	log.WithField("entries", len(zr.File)).Debug("package extracted")
	return nil
}

func extractFile(f *zip.File, target string, perm os.FileMode) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", f.Name, err)
	}

	n, err := io.Copy(out, io.LimitReader(rc, maxEntryBytes+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	if n > maxEntryBytes {
		return fmt.Errorf("extracting %s: entry exceeds %d bytes", f.Name, maxEntryBytes)
	}
	return nil
}

var errFound = errors.New("found")

// findExecutable returns the first regular file named name below root, in
// lexical walk order.
func findExecutable(root, name string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && d.Name() == name {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
	}
	return found, nil
}
