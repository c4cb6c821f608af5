package selfupdate

import "errors"

var (
	ErrCheckFailed    = errors.New("update check failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrInstallFailed  = errors.New("install failed")

	// ErrExecutableNotFound is wrapped by ErrInstallFailed when the package
	// does not contain the expected executable.
	ErrExecutableNotFound = errors.New("executable not found")
)
