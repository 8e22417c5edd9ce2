package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/jmylchreest/audex/pkg/httpclient"
)

// HTTPFetcher fetches artifacts over HTTP(S) with retries, and from local
// file:// mirrors for air-gapped installs.
type HTTPFetcher struct {
	client *httpclient.Client
}

// NewHTTPFetcher wraps client. A nil client uses the package defaults.
func NewHTTPFetcher(client *httpclient.Client) *HTTPFetcher {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, onProgress func(received, total int64)) ([]byte, error) {
	if strings.HasPrefix(rawURL, "file://") {
		return fetchFile(ctx, rawURL, onProgress)
	}

	data, err := f.client.Download(ctx, rawURL, onProgress)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.NotFound() {
			return nil, fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
		}
		return nil, err
	}
	return data, nil
}

func fetchFile(ctx context.Context, rawURL string, onProgress func(received, total int64)) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing mirror url: %w", err)
	}

	file, err := os.Open(u.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
		}
		return nil, err
	}
	defer file.Close()

	var total int64 = -1
	if info, statErr := file.Stat(); statErr == nil {
		total = info.Size()
	}

	data, err := httpclient.ReadAllWithProgress(&contextReader{ctx: ctx, r: file}, total, onProgress)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u.Path, err)
	}
	return data, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
