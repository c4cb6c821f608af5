package selfupdate

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_ReportsPercentOncePerChange(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64<<10/16*10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pkg.zip")
	var got []int
	path, err := NewDownloader(0).Download(context.Background(), srv.URL, dest, func(p int) {
		got = append(got, p)
	})
	require.NoError(t, err)
	assert.Equal(t, dest, path)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, content))

	require.NotEmpty(t, got)
	assert.Equal(t, 100, got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1], "percent must change between callbacks")
	}
}

func TestDownload_NoContentLengthNoProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 4; i++ {
			_, _ = w.Write(bytes.Repeat([]byte{byte('a' + i)}, 10000))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pkg.zip")
	calls := 0
	_, err := NewDownloader(0).Download(context.Background(), srv.URL, dest, func(int) { calls++ })
	require.NoError(t, err)
	assert.Zero(t, calls)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), info.Size())
}

func TestDownload_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewDownloader(0).Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), nil)
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestDownload_StalledTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write(make([]byte, 1000))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pkg.zip")
	start := time.Now()
	_, err := NewDownloader(100*time.Millisecond).Download(context.Background(), srv.URL, dest, nil)
	require.ErrorIs(t, err, ErrDownloadFailed)
	assert.Contains(t, err.Error(), "no data received")
	assert.Less(t, time.Since(start), 3*time.Second)

	// The partial file is the caller's to remove.
	assert.FileExists(t, dest)
}

func TestFetchChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/empty") {
			return
		}
		fmt.Fprintln(w, "abc123  volzip.zip")
	}))
	defer srv.Close()

	d := NewDownloader(time.Second)
	sum, err := d.FetchChecksum(context.Background(), srv.URL+"/sum")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sum)

	_, err = d.FetchChecksum(context.Background(), srv.URL+"/empty")
	assert.ErrorIs(t, err, ErrDownloadFailed)
}
