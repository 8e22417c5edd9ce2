// Package httpclient is the HTTP client audex uses to fetch engine artifacts
// from mirrors. It retries transient failures with exponential backoff,
// decodes compressed bodies and caps how much a response may deliver.
//
// Transport errors and 429/502/503/504 responses are retried. Context
// cancellation and deadlines never are.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

var (
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

const (
	DefaultTimeout              = 30 * time.Second
	DefaultRetryAttempts        = 3
	DefaultRetryDelay           = time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultBackoffMultiplier    = 2.0
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgentHeader      = "audex-httpclient/1.0"
)

const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// Config configures a Client.
type Config struct {
	// Timeout bounds each attempt. Zero leaves timing to the request context,
	// which suits large artifact downloads.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts     int
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	UserAgent string
	Logger    *slog.Logger

	// EnableDecompression advertises and decodes gzip, deflate and brotli.
	EnableDecompression bool

	// MaxResponseSize caps the decoded body in bytes. Zero means no limit.
	MaxResponseSize int64

	// BaseClient replaces the default http.Client.
	BaseClient *http.Client
}

// DefaultConfig returns the configuration used by NewWithDefaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		UserAgent:           DefaultUserAgentHeader,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is an HTTP client with retries.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a client from cfg, filling in a logger and backoff multiplier
// when missing.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	client := cfg.BaseClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, client: client, logger: cfg.Logger}
}

// NewWithDefaults creates a client with DefaultConfig.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Get performs a GET request to url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Do sends req, retrying transient failures. The returned body is decoded
// and size limited according to the client's configuration.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}

	logger := c.logger.With(slog.String("method", req.Method), slog.String("url", redactURL(req)))
	wait := c.backoff()

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := wait()
			logger.Debug("retrying request", slog.Int("attempt", attempt), slog.Duration("delay", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, retry, err := c.attempt(req, logger.With(slog.Int("attempt", attempt)))
		if err == nil {
			return resp, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// attempt sends req once. retry reports whether a failure is transient.
func (c *Client) attempt(req *http.Request, logger *slog.Logger) (resp *http.Response, retry bool, err error) {
	start := time.Now()
	resp, err = c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn("request failed", slog.Duration("duration", elapsed), slog.String("error", err.Error()))
		transient := !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		return nil, transient, err
	}
	if isRetryableStatus(resp.StatusCode) {
		logger.Warn("retryable status code", slog.Int("status", resp.StatusCode), slog.Duration("duration", elapsed))
		_ = resp.Body.Close()
		return nil, true, &StatusError{URL: redactURL(req), StatusCode: resp.StatusCode}
	}

	logger.Debug("request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", elapsed),
		slog.Int64("content_length", resp.ContentLength),
	)
	resp.Body = c.wrapBody(resp)
	return resp, false, nil
}

// backoff returns a function yielding successive retry delays.
func (c *Client) backoff() func() time.Duration {
	next := c.config.RetryDelay
	return func() time.Duration {
		d := next
		next = time.Duration(float64(next) * c.config.BackoffMultiplier)
		if c.config.RetryMaxDelay > 0 && next > c.config.RetryMaxDelay {
			next = c.config.RetryMaxDelay
		}
		return d
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// redactURL drops userinfo and the query string, which may carry credentials.
func redactURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	u := *req.URL
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
