package selfupdate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/CloudNativeWorks/volzip/internal/operations/common"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/dustin/go-humanize"
)

const (
	DefaultDownloadTimeout = 30 * time.Second
	DefaultChunkSize       = 8 << 10
)

// Downloader streams release assets to disk. The timeout bounds connecting,
// waiting for response headers and any single stalled read; a slow but
// steady transfer may take longer.
type Downloader struct {
	httpClient *http.Client
	timeout    time.Duration
	chunkSize  int
	userAgent  string
	log        *logger.Logger
}

type DownloaderOption func(*Downloader)

func WithDownloadClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

func WithChunkSize(n int) DownloaderOption {
	return func(d *Downloader) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

func WithDownloadUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

func NewDownloader(timeout time.Duration, opts ...DownloaderOption) *Downloader {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	d := &Downloader{
		timeout:   timeout,
		chunkSize: DefaultChunkSize,
		log:       logger.NewLogger("downloader"),
	}
	d.httpClient = &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches url into dest and returns dest. onProgress receives
// whole percentages, once per change, and only when the server announces
// Content-Length. On failure the partially written file is left for the
// caller to remove.
func (d *Downloader) Download(ctx context.Context, url, dest string, onProgress func(percent int)) (string, error) {
	log := d.log.WithFields(logger.Fields{"url": url, "dest": dest})
	log.Info("starting download")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stalled atomic.Bool
	stall := time.AfterFunc(d.timeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer stall.Stop()

	resp, err := d.get(ctx, url)
	if err != nil {
		if stalled.Load() {
			err = fmt.Errorf("no response within %s: %w", d.timeout, err)
		}
		return dest, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return dest, fmt.Errorf("%w: creating %s: %w", ErrDownloadFailed, dest, err)
	}
	defer out.Close()

	total := resp.ContentLength
	last := -1
	written, err := common.CopyWithContext(ctx, out, resp.Body, d.chunkSize, func(n int64) {
		stall.Reset(d.timeout)
		if total <= 0 || onProgress == nil {
			return
		}
		pct := int(n * 100 / total)
		if pct > 100 {
			pct = 100
		}
		if pct != last {
			last = pct
			onProgress(pct)
		}
	})
	if err != nil {
		if stalled.Load() {
			err = fmt.Errorf("no data received for %s", d.timeout)
		}
		return dest, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	if total > 0 && written != total {
		return dest, fmt.Errorf("%w: short body: got %d of %d bytes", ErrDownloadFailed, written, total)
	}
	if err := out.Sync(); err != nil {
		return dest, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	log.WithField("size", humanize.IBytes(uint64(written))).Info("download complete")
	return dest, nil
}

// FetchChecksum reads a "<hex digest>  <name>" file, as written by
// sha256sum, and returns the digest.
func (d *Downloader) FetchChecksum(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("%w: checksum: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(io.LimitReader(resp.Body, 4096))
	if sc.Scan() {
		if fields := strings.Fields(sc.Text()); len(fields) > 0 {
			return fields[0], nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("%w: checksum: %w", ErrDownloadFailed, err)
	}
	return "", fmt.Errorf("%w: checksum file is empty", ErrDownloadFailed)
}

func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp, nil
}
