package livesocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrNoCSRFToken is returned when a page has no usable csrf-token meta tag.
var ErrNoCSRFToken = errors.New("csrf-token meta tag not found")

// CSRFTokenFromHTML returns the content of the page's <meta name="csrf-token"> tag.
func CSRFTokenFromHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	token := strings.TrimSpace(doc.Find(`meta[name="csrf-token"]`).First().AttrOr("content", ""))
	if token == "" {
		return "", ErrNoCSRFToken
	}
	return token, nil
}

// FetchCSRFToken loads pageURL and extracts its CSRF token. The client
// needs a cookie jar if the socket is dialed with the same session.
func FetchCSRFToken(ctx context.Context, client *retryablehttp.Client, pageURL string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", pageURL, resp.StatusCode)
	}
	return CSRFTokenFromHTML(resp.Body)
}
