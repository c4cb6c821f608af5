package files

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteScript(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteScript(dir, "volzip-install", ".sh", "#!/bin/sh\nexit 0\n")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "volzip-install-"))
	assert.True(t, strings.HasSuffix(path, ".sh"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\nexit 0\n", string(content))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestDeleteFilesAndDirectories(t *testing.T) {
	log := logger.NewLogger("test")
	dir := t.TempDir()

	file := filepath.Join(dir, "pkg.zip")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	scratch := filepath.Join(dir, "scratch")
	require.NoError(t, os.MkdirAll(filepath.Join(scratch, "bin"), 0o755))

	res := DeleteFiles([]string{file, filepath.Join(dir, "missing"), ""}, log)
	assert.Equal(t, []string{file}, res.DeletedFiles)
	assert.Empty(t, res.Errors)

	res = DeleteDirectories([]string{scratch}, log)
	assert.Equal(t, []string{scratch}, res.DeletedFiles)
	assert.NoDirExists(t, scratch)
}
