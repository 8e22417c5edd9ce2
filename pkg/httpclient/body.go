package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decoders maps a Content-Encoding to a reader that undoes it.
var decoders = map[string]func(io.Reader) (io.Reader, error){
	EncodingGzip: func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	EncodingDeflate: func(r io.Reader) (io.Reader, error) {
		return flate.NewReader(r), nil
	},
	EncodingBrotli: func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
}

// wrapBody decodes the body when enabled, then applies the size limit. The
// limit counts decoded bytes so a small compressed body cannot expand unbounded.
func (c *Client) wrapBody(resp *http.Response) io.ReadCloser {
	body := resp.Body
	if c.config.EnableDecompression {
		body = c.decode(resp)
	}
	if c.config.MaxResponseSize > 0 {
		body = newLimitedReader(body, c.config.MaxResponseSize)
	}
	return body
}

func (c *Client) decode(resp *http.Response) io.ReadCloser {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get(HeaderContentEncoding)))
	if encoding == "" || encoding == "identity" {
		return resp.Body
	}
	newDecoder, ok := decoders[encoding]
	if !ok {
		c.logger.Debug("unknown content encoding, returning raw body", slog.String("encoding", encoding))
		return resp.Body
	}
	r, err := newDecoder(resp.Body)
	if err != nil {
		c.logger.Warn("failed to create decoder, returning raw body",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()),
		)
		return resp.Body
	}
	return &decodedBody{Reader: r, body: resp.Body}
}

// decodedBody closes both the decoder and the underlying body.
type decodedBody struct {
	io.Reader
	body io.Closer
}

func (d *decodedBody) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return d.body.Close()
}

// limitedReader fails with ErrResponseTooLarge once more than its limit has
// been read, and on every read after that.
type limitedReader struct {
	io.ReadCloser
	remaining int64
}

func newLimitedReader(r io.ReadCloser, limit int64) *limitedReader {
	return &limitedReader{ReadCloser: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}

// ReadAllWithProgress reads r to EOF, calling onProgress after every read.
// total is passed through to onProgress and presizes the buffer when known.
func ReadAllWithProgress(r io.Reader, total int64, onProgress ProgressFunc) ([]byte, error) {
	size := int64(512)
	if total > 0 {
		size = total
	}
	buf := make([]byte, 0, size)
	chunk := make([]byte, 32*1024)
	var received int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			received += int64(n)
			if onProgress != nil {
				onProgress(received, total)
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			return buf, nil
		case err != nil:
			return nil, err
		}
	}
}
