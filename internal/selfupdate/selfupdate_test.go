package selfupdate

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// zipBytes builds an update package from name -> content.
func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.SetMode(0o755)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writePackage(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	p := filepath.Join(dir, "package.zip")
	require.NoError(t, os.WriteFile(p, zipBytes(t, entries), 0o644))
	return p
}

type releaseServer struct {
	*httptest.Server
	Tag      string
	Package  []byte
	Checksum string // served as the .sha256 asset when non-empty
	NoAsset  bool
}

func newReleaseServer(t *testing.T, tag string, pkg []byte) *releaseServer {
	t.Helper()
	rs := &releaseServer{Tag: tag, Package: pkg}
	mux := http.NewServeMux()
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		assets := []feedAsset{{Name: "CHANGELOG.md", BrowserDownloadURL: base + "/download/CHANGELOG.md"}}
		if !rs.NoAsset {
			assets = append(assets, feedAsset{Name: "volzip.zip", BrowserDownloadURL: base + "/download/volzip.zip"})
		}
		if rs.Checksum != "" {
			assets = append(assets, feedAsset{Name: "volzip.zip.sha256", BrowserDownloadURL: base + "/download/volzip.zip.sha256"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(feedRelease{TagName: rs.Tag, Assets: assets})
	})
	mux.HandleFunc("/download/volzip.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(rs.Package)))
		_, _ = w.Write(rs.Package)
	})
	mux.HandleFunc("/download/volzip.zip.sha256", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  volzip.zip\n", rs.Checksum)
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func (rs *releaseServer) FeedURL() string {
	return rs.URL + "/latest"
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeLauncher) StartDetached(cmd string, args ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{cmd}, args...))
	if f.err != nil {
		return 0, f.err
	}
	return 4242, nil
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
