package selfupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

const (
	// maxFeedBytes bounds the release feed body.
	maxFeedBytes = 4 << 20

	// checksumSuffix marks the optional digest asset published next to a
	// package, as in "volzip.zip.sha256".
	checksumSuffix = ".sha256"

	DefaultCheckTimeout   = 10 * time.Second
	DefaultAssetExtension = ".zip"
)

// CheckStatus is the answer of a successful check.
type CheckStatus int

const (
	StatusNoUpdate CheckStatus = iota
	StatusUpdateAvailable
)

func (s CheckStatus) String() string {
	switch s {
	case StatusUpdateAvailable:
		return "update available"
	default:
		return "no update"
	}
}

// ReleaseInfo describes the latest published release. ChecksumURL is set
// only when the feed also carries a digest asset for the package.
type ReleaseInfo struct {
	Version     string `yaml:"version"`
	DownloadURL string `yaml:"download_url"`
	AssetName   string `yaml:"asset_name"`
	ChecksumURL string `yaml:"checksum_url,omitempty"`
}

type CheckResult struct {
	Status         CheckStatus `yaml:"-"`
	CurrentVersion string      `yaml:"current_version"`
	Release        ReleaseInfo `yaml:"release"`
}

func (r CheckResult) UpdateAvailable() bool {
	return r.Status == StatusUpdateAvailable
}

type (
	feedRelease struct {
		TagName string      `json:"tag_name"`
		Assets  []feedAsset `json:"assets"`
	}

	feedAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	}

	// Checker queries a release feed and compares its version with the
	// running one.
	Checker struct {
		httpClient     *http.Client
		feedURL        string
		currentVersion string
		current        string
		assetExt       string
		timeout        time.Duration
		userAgent      string
		newer          Comparator
		log            *logger.Logger
	}

	CheckerOption func(*Checker)
)

func WithHTTPClient(c *http.Client) CheckerOption {
	return func(ch *Checker) {
		ch.httpClient = c
	}
}

// WithCheckTimeout bounds the whole feed request.
func WithCheckTimeout(d time.Duration) CheckerOption {
	return func(ch *Checker) {
		if d > 0 {
			ch.timeout = d
		}
	}
}

func WithComparator(cmp Comparator) CheckerOption {
	return func(ch *Checker) {
		if cmp != nil {
			ch.newer = cmp
		}
	}
}

func WithAssetExtension(ext string) CheckerOption {
	return func(ch *Checker) {
		if ext != "" {
			ch.assetExt = ext
		}
	}
}

func WithUserAgent(ua string) CheckerOption {
	return func(ch *Checker) {
		ch.userAgent = ua
	}
}

// NewChecker creates a Checker for feedURL. Defaults: 10s timeout, ".zip"
// assets, float version comparison.
func NewChecker(feedURL, currentVersion string, opts ...CheckerOption) *Checker {
	c := &Checker{
		httpClient:     http.DefaultClient,
		feedURL:        feedURL,
		currentVersion: currentVersion,
		assetExt:       DefaultAssetExtension,
		timeout:        DefaultCheckTimeout,
		userAgent:      "volzip/" + currentVersion,
		newer:          FloatNewer,
		log:            logger.NewLogger("selfupdate"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current = NormalizeTag(currentVersion)
	return c
}

// Check fetches the feed once. Network, status and decoding problems are
// returned wrapped in ErrCheckFailed; a feed without a usable version or
// package asset is simply StatusNoUpdate.
func (c *Checker) Check(ctx context.Context) (CheckResult, error) {
	result := CheckResult{Status: StatusNoUpdate, CurrentVersion: c.currentVersion}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return result, fmt.Errorf("%w: creating request: %w", ErrCheckFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("%w: unexpected status %s", ErrCheckFailed, resp.Status)
	}

	var feed feedRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&feed); err != nil {
		return result, fmt.Errorf("%w: decoding feed: %w", ErrCheckFailed, err)
	}

	result.Release = c.releaseFrom(feed)
	log := c.log.WithFields(logger.Fields{
		"current": c.currentVersion,
		"latest":  result.Release.Version,
	})

	switch {
	case result.Release.Version == "" || result.Release.DownloadURL == "":
		log.Debug("feed has no usable release")
	case c.newer(c.current, result.Release.Version):
		result.Status = StatusUpdateAvailable
		log.WithField("asset", result.Release.AssetName).Info("update available")
	default:
		log.Debug("already up to date")
	}
	return result, nil
}

func (c *Checker) releaseFrom(feed feedRelease) ReleaseInfo {
	info := ReleaseInfo{Version: NormalizeTag(feed.TagName)}
	for _, a := range feed.Assets {
		if strings.HasSuffix(a.Name, c.assetExt) && a.BrowserDownloadURL != "" {
			info.AssetName = a.Name
			info.DownloadURL = a.BrowserDownloadURL
			break
		}
	}
	if info.AssetName == "" {
		return info
	}
	for _, a := range feed.Assets {
		if a.Name == info.AssetName+checksumSuffix {
			info.ChecksumURL = a.BrowserDownloadURL
			break
		}
	}
	return info
}
