package segregate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxAssetBytes limits the size of downloaded assets.
const maxAssetBytes = 50 * 1024 * 1024 // 50 MB

const defaultDownloadTimeout = 30 * time.Second

// HTTPDownloader fetches asset bytes over HTTP.
type HTTPDownloader struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDownloader creates a downloader with the given timeout and
// user agent. Non-positive timeout falls back to the default.
func NewHTTPDownloader(timeout time.Duration, userAgent string) *HTTPDownloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &HTTPDownloader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Download performs the HTTP GET for an asset URL.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if reqErr != nil {
		return nil, "", fmt.Errorf("create request: %w", reqErr)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, doErr := d.client.Do(req)
	if doErr != nil {
		return nil, "", fmt.Errorf("http fetch: %w", doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if readErr != nil {
		return nil, "", fmt.Errorf("read response body: %w", readErr)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return body, contentType, nil
}
