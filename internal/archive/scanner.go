package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/bmatcuk/doublestar/v4"
)

// ManifestEntry maps a file on disk to its name inside the archive.
type ManifestEntry struct {
	SourcePath  string
	ArchiveName string
	Size        uint64
}

// Manifest is the ordered, de-duplicated list of files that make up one
// archive. It is built once per job and not modified afterwards.
type Manifest struct {
	Entries   []ManifestEntry
	TotalSize uint64
}

// Scanner walks a source path and builds its manifest.
type Scanner struct {
	log *logger.Logger
}

func NewScanner() *Scanner {
	return &Scanner{log: logger.NewLogger("scanner")}
}

// Scan builds the manifest for path, which may be a single file or a
// directory. Archive names matching any of the exclude globs are skipped.
// A source whose included files add up to zero bytes fails with
// ErrEmptySource.
func (s *Scanner) Scan(path string, exclude []string) (*Manifest, error) {
	for _, pattern := range exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: bad exclude pattern %q", ErrInvalidJob, pattern)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}

	m := &Manifest{}
	seen := make(map[string]struct{})
	add := func(src, name string, size uint64) {
		if excluded(name, exclude) {
			return
		}
		// First occurrence wins.
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		m.Entries = append(m.Entries, ManifestEntry{SourcePath: src, ArchiveName: name, Size: size})
		m.TotalSize += size
	}

	if !info.IsDir() {
		add(path, filepath.Base(path), uint64(info.Size()))
	} else {
		// WalkDir does not follow a symlinked root.
		root, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceMissing, err)
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			fi, err := regularFileInfo(p, d)
			if err != nil {
				return err
			}
			if fi == nil {
				s.log.WithField("path", p).Debug("Skipping non-regular file")
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			add(p, filepath.ToSlash(rel), uint64(fi.Size()))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
	}

	s.log.WithFields(logger.Fields{
		"source":     path,
		"files":      len(m.Entries),
		"total_size": m.TotalSize,
	}).Debug("Source scanned")

	if m.TotalSize == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, path)
	}
	return m, nil
}

// regularFileInfo returns the file info for regular files and symlinks
// pointing at regular files, and nil for everything else.
func regularFileInfo(p string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type().IsRegular() {
		return d.Info()
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return nil, nil
	}
	fi, err := os.Stat(p)
	if err != nil {
		// Dangling link.
		return nil, nil
	}
	if !fi.Mode().IsRegular() {
		return nil, nil
	}
	return fi, nil
}

func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
