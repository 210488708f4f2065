// Package updater checks GitHub for a newer AegisGuard release.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	githubOwner = "mackeh"
	githubRepo  = "AegisGuard"
	apiBase     = "https://api.github.com"
)

// Release represents a GitHub release.
type Release struct {
	TagName string  `json:"tag_name"`
	HTMLURL string  `json:"html_url"`
	Assets  []Asset `json:"assets"`
}

// Asset represents a GitHub release asset.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Checker queries the latest release. The zero value talks to api.github.com.
type Checker struct {
	BaseURL string
	Client  *http.Client
}

// Latest fetches the newest published release.
func (c Checker) Latest(ctx context.Context) (*Release, error) {
	base := c.BaseURL
	if base == "" {
		base = apiBase
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(base, "/"), githubOwner, githubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}
	return &release, nil
}

// Check returns the latest release when its tag differs from
// currentVersion, or nil when up to date.
func (c Checker) Check(ctx context.Context, currentVersion string) (*Release, error) {
	release, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	latest := strings.TrimPrefix(release.TagName, "v")
	current := strings.TrimPrefix(currentVersion, "v")
	if latest == "" || latest == current {
		return nil, nil
	}
	return release, nil
}
