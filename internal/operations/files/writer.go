package files

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteScript stores content as an executable file named
// "<prefix>-<uuid><ext>" in dir and returns its path.
func WriteScript(dir, prefix, ext, content string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, uuid.NewString(), ext))
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return "", fmt.Errorf("failed to write script: %w", err)
	}
	// WriteFile honours the umask; the script must stay runnable.
	if err := os.Chmod(path, 0o755); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to set script permissions: %w", err)
	}
	return path, nil
}
