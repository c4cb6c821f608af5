package files

import (
	"os"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

type DeleteFilesResult struct {
	DeletedFiles []string
	Errors       []error
}

// DeleteFiles removes every path, ignoring ones that are already gone.
func DeleteFiles(filePaths []string, log *logger.Logger) DeleteFilesResult {
	return deleteAll(filePaths, os.Remove, log)
}

// DeleteDirectories removes each directory tree.
func DeleteDirectories(dirs []string, log *logger.Logger) DeleteFilesResult {
	return deleteAll(dirs, os.RemoveAll, log)
}

func deleteAll(paths []string, remove func(string) error, log *logger.Logger) DeleteFilesResult {
	result := DeleteFilesResult{
		DeletedFiles: []string{},
		Errors:       []error{},
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Warnf("Failed to remove %s: %v", path, err)
				result.Errors = append(result.Errors, err)
			}
		} else {
			log.Debugf("Successfully deleted: %s", path)
			result.DeletedFiles = append(result.DeletedFiles, path)
		}
	}

	return result
}
