package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no release feed URL is set.
var ErrNotConfigured = errors.New("firmware release lookup not configured")

// Release describes the newest published bridge firmware.
type Release struct {
	Version     string    `json:"version"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}

// Client fetches the latest firmware release with a short request timeout
// and no retry; a stale cached release is an acceptable fallback when the
// feed is unreachable.
type Client struct {
	url      string
	http     *http.Client
	cacheTTL time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	cached    Release
	fetchedAt time.Time
}

// NewClient creates a new firmware release client
func NewClient(url string, timeout, cacheTTL time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:      url,
		http:     &http.Client{Timeout: timeout},
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// LatestRelease returns the newest release, served from cache while fresh.
func (c *Client) LatestRelease(ctx context.Context) (Release, error) {
	if c.url == "" {
		return Release{}, ErrNotConfigured
	}

	c.mu.Lock()
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.cacheTTL {
		cached := c.cached
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	release, err := c.fetch(ctx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.fetchedAt.IsZero() {
			c.logger.Warn("firmware lookup failed, serving cached release",
				zap.String("version", c.cached.Version), zap.Error(err))
			return c.cached, nil
		}
		return Release{}, err
	}

	c.mu.Lock()
	c.cached = release
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return release, nil
}

func (c *Client) fetch(ctx context.Context) (Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Release{}, fmt.Errorf("failed to build release request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("release feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("release feed returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return Release{}, fmt.Errorf("failed to decode release feed: %w", err)
	}
	if release.Version == "" {
		return Release{}, fmt.Errorf("release feed missing version")
	}
	return release, nil
}
