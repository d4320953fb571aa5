// Package imgcdn requests resized renditions of uploaded images from an
// image-resizing CDN (imgix-style query parameters).
package imgcdn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBodySize = 1024

// Rendition describes one derivative of a source image.
type Rendition struct {
	Name   string
	Width  int
	Height int
	// Fit is the CDN resize mode, e.g. "crop". Empty keeps the CDN default.
	Fit string
}

// Query returns the rendition parameters as w, h, fit in that order.
func (r Rendition) Query() string {
	var params []string
	if r.Width > 0 {
		params = append(params, "w="+strconv.Itoa(r.Width))
	}
	if r.Height > 0 {
		params = append(params, "h="+strconv.Itoa(r.Height))
	}
	if r.Fit != "" {
		params = append(params, "fit="+url.QueryEscape(r.Fit))
	}
	return strings.Join(params, "&")
}

// URL appends the rendition query to sourceURL.
func (r Rendition) URL(sourceURL string) string {
	q := r.Query()
	if q == "" {
		return sourceURL
	}
	sep := "?"
	if strings.Contains(sourceURL, "?") {
		sep = "&"
	}
	return sourceURL + sep + q
}

// SourceURL templates the public CDN URL of an uploaded file from its name.
func SourceURL(baseURL, fileName string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + url.PathEscape(fileName)
}

// Blob is a fetched rendition.
type Blob struct {
	Data        []byte
	ContentType string
}

// Client ...
type Client struct {
	httpClient *retryablehttp.Client
	logger     log.Logger
}

// NewClient ...
func NewClient(httpClient *retryablehttp.Client, logger log.Logger) *Client {
	return &Client{httpClient: httpClient, logger: logger}
}

// Fetch downloads rendition r of sourceURL. Any non-2xx answer is an error.
func (c *Client) Fetch(ctx context.Context, sourceURL string, r Rendition) (Blob, error) {
	renditionURL := r.URL(sourceURL)
	c.logger.Debugf("Fetching %s rendition: %s", r.Name, renditionURL)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, renditionURL, nil)
	if err != nil {
		return Blob{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return Blob{}, fmt.Errorf("fetch %s rendition: %w", r.Name, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warnf("Failed to close response body: %s", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return Blob{}, fmt.Errorf("fetch %s rendition: HTTP %d: %s", r.Name, resp.StatusCode, errorBody)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Blob{}, fmt.Errorf("read %s rendition: %w", r.Name, err)
	}

	return Blob{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}
