package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

const (
	DefaultManifestURL = "https://launchermeta.mojang.com/mc/game/version_manifest.json"
	DefaultReleaseType = "release"
	DefaultLimit       = 50
	DefaultCacheTTL    = 10 * time.Minute
	DefaultTimeout     = 10 * time.Second

	maxDocumentSize = 16 << 20
)

type Config struct {
	ManifestURL string        `yaml:"manifest_url,omitempty"`
	ReleaseType string        `yaml:"release_type,omitempty"`
	Limit       int           `yaml:"limit,omitempty"`
	CacheTTL    time.Duration `yaml:"cache_ttl,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

func (c *Config) setDefaults() {
	if c.ManifestURL == "" {
		c.ManifestURL = DefaultManifestURL
	}
	if c.ReleaseType == "" {
		c.ReleaseType = DefaultReleaseType
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Release is one manifest entry. URL points at the per-release detail
// document, not at the server archive.
type Release struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	ReleaseTime string `json:"release_time,omitempty"`
}

// Catalog reads the remote release manifest. The manifest is cached for
// CacheTTL and concurrent refreshes collapse into one request.
type Catalog struct {
	config Config
	client *http.Client
	logger logging.Logger
	now    func() time.Time

	group singleflight.Group

	manifest  []Release
	fetchedAt time.Time
	mutex     sync.Mutex
}

func NewCatalog(config Config, logger logging.Logger) *Catalog {
	config.setDefaults()
	return &Catalog{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

// Releases returns the newest entries of the configured type, manifest
// order, capped at Limit
func (c *Catalog) Releases(ctx context.Context) ([]Release, error) {
	manifest, err := c.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	releases := make([]Release, 0, c.config.Limit)
	for _, release := range manifest {
		if release.Type != c.config.ReleaseType {
			continue
		}
		releases = append(releases, release)
		if len(releases) == c.config.Limit {
			break
		}
	}
	return releases, nil
}

// ServerDownloadURL resolves releaseID to its server archive URL through
// the release's detail document
func (c *Catalog) ServerDownloadURL(ctx context.Context, releaseID string) (string, error) {
	manifest, err := c.loadManifest(ctx)
	if err != nil {
		return "", err
	}

	var detailURL string
	for _, release := range manifest {
		if release.ID == releaseID {
			detailURL = release.URL
			break
		}
	}
	if detailURL == "" {
		return "", errors.NewNotFoundError(fmt.Sprintf("release %s not found", releaseID), nil).WithContext("release", releaseID)
	}

	body, err := c.get(ctx, detailURL)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", errors.NewDownloadError("malformed release detail", nil).WithContext("release", releaseID)
	}

	url := gjson.GetBytes(body, "downloads.server.url").String()
	if url == "" {
		return "", errors.NewDownloadError(fmt.Sprintf("release %s has no server download", releaseID), nil).WithContext("release", releaseID)
	}
	return url, nil
}

// Invalidate drops the cached manifest
func (c *Catalog) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.manifest = nil
}

func (c *Catalog) loadManifest(ctx context.Context) ([]Release, error) {
	c.mutex.Lock()
	if c.manifest != nil && c.now().Sub(c.fetchedAt) < c.config.CacheTTL {
		manifest := c.manifest
		c.mutex.Unlock()
		return manifest, nil
	}
	c.mutex.Unlock()

	// The shared fetch must not die with whichever caller happened to start it
	result := c.group.DoChan("manifest", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
		defer cancel()
		return c.fetchManifest(fetchCtx)
	})

	select {
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]Release), nil
	case <-ctx.Done():
		return nil, errors.NewCancelledError("release list request cancelled", ctx.Err())
	}
}

func (c *Catalog) fetchManifest(ctx context.Context) ([]Release, error) {
	c.logger.Debugf("Fetching release manifest, url: %s", c.config.ManifestURL)

	body, err := c.get(ctx, c.config.ManifestURL)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.NewDownloadError("malformed release manifest", nil).WithContext("url", c.config.ManifestURL)
	}

	versions := gjson.GetBytes(body, "versions")
	if !versions.IsArray() {
		return nil, errors.NewDownloadError("release manifest has no versions", nil).WithContext("url", c.config.ManifestURL)
	}

	manifest := make([]Release, 0, len(versions.Array()))
	versions.ForEach(func(_, value gjson.Result) bool {
		id := value.Get("id").String()
		if id == "" {
			return true
		}
		manifest = append(manifest, Release{
			ID:          id,
			Type:        value.Get("type").String(),
			URL:         value.Get("url").String(),
			ReleaseTime: value.Get("releaseTime").String(),
		})
		return true
	})

	c.mutex.Lock()
	c.manifest = manifest
	c.fetchedAt = c.now()
	c.mutex.Unlock()

	c.logger.Infof("Release manifest loaded, entries: %d", len(manifest))
	return manifest, nil
}

func (c *Catalog) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewDownloadError("invalid catalog url", err).WithContext("url", url)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewUnavailableError("release catalog unreachable", err).WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewDownloadError(fmt.Sprintf("release catalog returned status %d", resp.StatusCode), nil).WithContext("url", url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, errors.NewUnavailableError("failed to read release catalog response", err).WithContext("url", url)
	}
	return body, nil
}
