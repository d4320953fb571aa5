package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBodySize = 1024

// HTTPWriter PUTs payloads to pre-signed URLs. The URL carries the
// authorization, so no credentials are attached.
type HTTPWriter struct {
	client *retryablehttp.Client
	logger log.Logger
}

// NewHTTPClient returns a retrying client that hands every final response
// back to the caller, so status handling stays with the writer.
func NewHTTPClient(retryMax int, logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = retryMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// NewHTTPWriter ...
func NewHTTPWriter(client *retryablehttp.Client, logger log.Logger) *HTTPWriter {
	return &HTTPWriter{client: client, logger: logger}
}

// Put uploads in.Body with a single PUT. Only HTTP 200 counts as success.
func (w *HTTPWriter) Put(ctx context.Context, in PutInput) error {
	body := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		return newProgressReader(in.Body, in.OnProgress), nil
	})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, in.URL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in.ContentType != "" {
		req.Header.Set("Content-Type", in.ContentType)
	}
	req.ContentLength = int64(len(in.Body))

	resp, err := w.client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("put object: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			w.logger.Warnf("Failed to close response body: %s", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(errorBody)}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
