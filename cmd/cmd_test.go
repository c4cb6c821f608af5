package cmd

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CloudNativeWorks/volzip/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VOLZIP_LOGGING_FILE", filepath.Join(t.TempDir(), "volzip.log"))
	t.Setenv("VOLZIP_UPDATE_CHECK_ON_START", "false")

	var stdout bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return stdout.String(), err
}

func TestCompressCommand_YAMLOutput(t *testing.T) {
	data := make([]byte, 3<<20)
	rand.New(rand.NewSource(1)).Read(data)
	src := filepath.Join(t.TempDir(), "backup.tar")
	require.NoError(t, os.WriteFile(src, data, 0o644))
	out := t.TempDir()

	stdout, err := execute(t, "compress", src, "-d", out, "-s", "1MiB", "--output", "yaml")
	require.NoError(t, err)

	var got struct {
		Success bool     `yaml:"success"`
		Message string   `yaml:"message"`
		Volumes []string `yaml:"volumes"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &got))
	assert.True(t, got.Success, got.Message)
	require.Len(t, got.Volumes, 4)
	assert.Equal(t, filepath.Join(out, "backup.tar.z01"), got.Volumes[0])
	assert.Equal(t, filepath.Join(out, "backup.tar.zip"), got.Volumes[3])
	assert.Contains(t, got.Message, "4 volumes")
}

func TestCompressCommand_RejectsSmallVolumes(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))

	_, err := execute(t, "compress", src, "-s", "10KB", "--output", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum")
}

func TestExitCode(t *testing.T) {
	t.Run("empty source", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "empty")
		require.NoError(t, os.MkdirAll(src, 0o755))

		_, err := execute(t, "compress", src, "-d", t.TempDir(), "-s", "1MB", "-q")
		require.ErrorIs(t, err, archive.ErrEmptySource)
		assert.Equal(t, ExitBadInput, ExitCode(err))
	})

	t.Run("volume size below minimum", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "a.txt")
		require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))

		_, err := execute(t, "compress", src, "-s", "1000KB", "-q")
		require.Error(t, err)
		assert.Equal(t, ExitBadInput, ExitCode(err))
	})

	t.Run("runtime failure", func(t *testing.T) {
		assert.Equal(t, ExitFailure, ExitCode(fmt.Errorf("disk: %w", io.ErrShortWrite)))
	})
}

func TestUpdateCheckCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"tag_name":"v2.0","assets":[{"name":"volzip.zip","browser_download_url":"http://%s/volzip.zip"}]}`, r.Host)
	}))
	defer srv.Close()
	t.Setenv("VOLZIP_UPDATE_FEED_URL", srv.URL)

	Version = "1.01"
	stdout, err := execute(t, "update", "check", "--output", "text")
	require.NoError(t, err)
	assert.Equal(t, "volzip 2.0 is available (running 1.01)\n", stdout)

	stdout, err = execute(t, "update", "check", "--output", "yaml")
	require.NoError(t, err)
	assert.True(t, strings.Contains(stdout, "update_available: true"), stdout)
	assert.Contains(t, stdout, "version: \"2.0\"")
}
