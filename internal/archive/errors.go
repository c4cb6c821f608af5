package archive

import "errors"

// Failures of an archive job. Every error returned by this package wraps
// exactly one of them.
var (
	ErrSourceMissing = errors.New("source does not exist")
	ErrEmptySource   = errors.New("source is empty")
	ErrInvalidJob    = errors.New("invalid archive job")
	ErrBuildFailed   = errors.New("build failed")
	ErrSplitFailed   = errors.New("split failed")
)
