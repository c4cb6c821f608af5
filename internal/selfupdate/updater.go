package selfupdate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CloudNativeWorks/volzip/internal/operations/common"
	"github.com/CloudNativeWorks/volzip/internal/operations/files"
	"github.com/CloudNativeWorks/volzip/pkg/helper"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

// Result is the single terminal value of an update run. Staged is set
// only when a newer release was downloaded and staged.
type Result struct {
	Check  CheckResult
	Staged *StagedInstall
	Err    error
}

func (r Result) Installed() bool {
	return r.Err == nil && r.Staged != nil
}

// Updater chains check, download and staging. Nothing runs concurrently
// inside a run; Start only moves the run off the caller's goroutine.
type Updater struct {
	checker    *Checker
	downloader *Downloader
	installer  *Installer
	tempDir    string
	log        *logger.Logger
}

func NewUpdater(checker *Checker, downloader *Downloader, installer *Installer, tempDir string) *Updater {
	return &Updater{
		checker:    checker,
		downloader: downloader,
		installer:  installer,
		tempDir:    tempDir,
		log:        logger.NewLogger("updater"),
	}
}

// Run checks for a newer release and, if there is one, downloads and
// stages it. The downloaded package never outlives the call.
func (u *Updater) Run(ctx context.Context, onProgress func(percent int)) Result {
	check, err := u.checker.Check(ctx)
	if err != nil {
		return Result{Check: check, Err: err}
	}
	if !check.UpdateAvailable() {
		return Result{Check: check}
	}
	release := check.Release

	pkg, err := u.packagePath(release)
	if err != nil {
		return Result{Check: check, Err: fmt.Errorf("%w: %w", ErrDownloadFailed, err)}
	}

	if _, err := u.downloader.Download(ctx, release.DownloadURL, pkg, onProgress); err != nil {
		files.DeleteFiles([]string{pkg}, u.log)
		return Result{Check: check, Err: err}
	}

	if release.ChecksumURL != "" {
		if err := u.verify(ctx, release, pkg); err != nil {
			files.DeleteFiles([]string{pkg}, u.log)
			return Result{Check: check, Err: err}
		}
	}

	staged, err := u.installer.Stage(pkg)
	if err != nil {
		return Result{Check: check, Err: err}
	}
	return Result{Check: check, Staged: staged}
}

// Start runs the pipeline on a new goroutine. The returned channel yields
// exactly one Result and is then closed.
func (u *Updater) Start(ctx context.Context, onProgress func(percent int)) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		defer helper.RecoverPanic(u.log, "updater", func(r any) {
			ch <- Result{Err: fmt.Errorf("%w: internal error: %v", ErrInstallFailed, r)}
		})
		ch <- u.Run(ctx, onProgress)
	}()
	return ch
}

// Handoff passes a staged install to the installer.
func (u *Updater) Handoff(ctx context.Context, staged *StagedInstall) error {
	return u.installer.Handoff(ctx, staged)
}

func (u *Updater) packagePath(release ReleaseInfo) (string, error) {
	f, err := os.CreateTemp(u.tempDir, "volzip-package-*"+filepath.Ext(release.AssetName))
	if err != nil {
		return "", fmt.Errorf("creating package file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func (u *Updater) verify(ctx context.Context, release ReleaseInfo, pkg string) error {
	sum, err := u.downloader.FetchChecksum(ctx, release.ChecksumURL)
	if err != nil {
		return err
	}
	if err := common.VerifyChecksum(u.log, pkg, sum); err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	return nil
}
