package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	return cfg
}

func TestNew(t *testing.T) {
	t.Run("with default config", func(t *testing.T) {
		client := NewWithDefaults()
		assert.NotNil(t, client.client)
		assert.NotNil(t, client.logger)
		assert.Equal(t, DefaultRetryAttempts, client.config.RetryAttempts)
	})

	t.Run("with custom base client", func(t *testing.T) {
		baseClient := &http.Client{Timeout: 5 * time.Second}
		cfg := DefaultConfig()
		cfg.BaseClient = baseClient
		assert.Equal(t, baseClient, New(cfg).client)
	})

	t.Run("fills missing logger and multiplier", func(t *testing.T) {
		client := New(Config{})
		assert.NotNil(t, client.logger)
		assert.Equal(t, DefaultBackoffMultiplier, client.config.BackoffMultiplier)
	})
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, DefaultUserAgentHeader, r.Header.Get(HeaderUserAgent))
		assert.Equal(t, DefaultAcceptEncodingHeader, r.Header.Get(HeaderAcceptEncoding))
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	resp, err := NewWithDefaults().Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

// statusServer answers with codes in order, repeating the last one.
func statusServer(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		w.WriteHeader(codes[min(n, len(codes))-1])
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name       string
		codes      []int
		retries    int
		wantStatus int // 0 means an ErrMaxRetries error
		wantHits   int32
	}{
		{"503 twice then ok", []int{503, 503, 200}, 3, http.StatusOK, 3},
		{"gives up after retries", []int{503}, 2, 0, 3},
		{"zero retries is one attempt", []int{502}, 0, 0, 1},
		{"404 is final", []int{404, 200}, 3, http.StatusNotFound, 1},
		{"429 is retried", []int{429, 200}, 1, http.StatusOK, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := statusServer(t, tt.codes...)
			cfg := testConfig()
			cfg.RetryAttempts = tt.retries

			resp, err := New(cfg).Get(context.Background(), srv.URL)
			assert.Equal(t, tt.wantHits, hits.Load())
			if tt.wantStatus == 0 {
				require.ErrorIs(t, err, ErrMaxRetries)
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, tt.codes[len(tt.codes)-1], statusErr.StatusCode)
				return
			}
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestClient_DeadlineIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(testConfig()).Get(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Decompression(t *testing.T) {
	t.Run("gzip", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderContentEncoding, EncodingGzip)
			gw := gzip.NewWriter(w)
			gw.Write([]byte("hello compressed world"))
			gw.Close()
		}))
		defer server.Close()

		data, err := NewWithDefaults().Download(context.Background(), server.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, "hello compressed world", string(data))
	})

	t.Run("brotli", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderContentEncoding, EncodingBrotli)
			bw := brotli.NewWriter(w)
			bw.Write([]byte("brotli body"))
			bw.Close()
		}))
		defer server.Close()

		data, err := NewWithDefaults().Download(context.Background(), server.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, "brotli body", string(data))
	})
}

func TestClient_Download(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 100*1024)

	t.Run("reports progress against content length", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "102400")
			w.Write(payload)
		}))
		defer server.Close()

		var last, total int64
		calls := 0
		data, err := NewWithDefaults().Download(context.Background(), server.URL, func(received, t int64) {
			calls++
			last, total = received, t
		})
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.Positive(t, calls)
		assert.Equal(t, int64(len(payload)), last)
		assert.Equal(t, int64(len(payload)), total)
	})

	t.Run("unknown length for encoded bodies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderContentEncoding, EncodingGzip)
			gw := gzip.NewWriter(w)
			gw.Write(payload)
			gw.Close()
		}))
		defer server.Close()

		var total int64
		_, err := NewWithDefaults().Download(context.Background(), server.URL, func(_, t int64) { total = t })
		require.NoError(t, err)
		assert.Equal(t, int64(-1), total)
	})

	t.Run("status error for 404", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := NewWithDefaults().Download(context.Background(), server.URL+"/ffmpeg.xz?token=secret", nil)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.True(t, statusErr.NotFound())
		assert.NotContains(t, statusErr.Error(), "secret")
	})

	t.Run("response size limit", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(payload)
		}))
		defer server.Close()

		cfg := DefaultConfig()
		cfg.MaxResponseSize = 1024
		_, err := New(cfg).Download(context.Background(), server.URL, nil)
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, isRetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 404, 500} {
		assert.False(t, isRetryableStatus(code), code)
	}
}

func TestLimitedReader(t *testing.T) {
	r := newLimitedReader(io.NopCloser(strings.NewReader("0123456789")), 5)
	buf := make([]byte, 20)
	_, err := r.Read(buf)
	assert.True(t, errors.Is(err, ErrResponseTooLarge))
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.NoError(t, r.Close())
}

func TestStatusError(t *testing.T) {
	err := &StatusError{URL: "https://mirror.example/engine.yaml", StatusCode: http.StatusGone}
	assert.True(t, err.NotFound())
	assert.Contains(t, err.Error(), "410")
	assert.False(t, (&StatusError{StatusCode: 500}).NotFound())
}

func TestClient_Backoff(t *testing.T) {
	cfg := Config{RetryDelay: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond, BackoffMultiplier: 2}
	next := New(cfg).backoff()

	assert.Equal(t, 100*time.Millisecond, next())
	assert.Equal(t, 200*time.Millisecond, next())
	assert.Equal(t, 300*time.Millisecond, next())
	assert.Equal(t, 300*time.Millisecond, next())
}

func TestClient_DeflateAndUnknownEncoding(t *testing.T) {
	t.Run("deflate", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderContentEncoding, EncodingDeflate)
			fw, _ := flate.NewWriter(w, flate.DefaultCompression)
			fw.Write([]byte("deflated"))
			fw.Close()
		}))
		defer server.Close()

		data, err := NewWithDefaults().Download(context.Background(), server.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, "deflated", string(data))
	})

	t.Run("unknown encoding passes through", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderContentEncoding, "x-custom")
			w.Write([]byte("raw bytes"))
		}))
		defer server.Close()

		data, err := NewWithDefaults().Download(context.Background(), server.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, "raw bytes", string(data))
	})
}
