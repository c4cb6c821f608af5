//go:build !windows

package cmdrunner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartDetached(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")

	pid, err := NewCommandsRunner().StartDetached("sh", "-c", "touch \"$1\"", "sh", marker)
	require.NoError(t, err)
	assert.Positive(t, pid)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStartDetached_MissingCommand(t *testing.T) {
	_, err := NewCommandsRunner().StartDetached(filepath.Join(t.TempDir(), "no-such-binary"))
	require.Error(t, err)
}
