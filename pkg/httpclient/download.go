package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned by Download for a non-2xx response, and wrapped in
// ErrMaxRetries when retryable statuses persist.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// NotFound reports whether the mirror does not have the resource.
func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// ProgressFunc receives the bytes read so far and the expected total, or -1
// when the total is unknown.
type ProgressFunc func(received, total int64)

// Download fetches url into memory, reporting progress as bytes arrive.
func (c *Client) Download(ctx context.Context, url string, onProgress ProgressFunc) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: redactURL(resp.Request), StatusCode: resp.StatusCode}
	}

	total := resp.ContentLength
	if c.config.EnableDecompression && resp.Header.Get(HeaderContentEncoding) != "" {
		// Content-Length counts encoded bytes.
		total = -1
	}
	return ReadAllWithProgress(resp.Body, total, onProgress)
}
