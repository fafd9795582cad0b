// Package util provides shared utilities for the blockyard application.
//nolint:revive // util is a common package name for shared utilities
package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"blockyard/internal/domain"
)

// UserAgent identifies blockyard to plugin registries.
const UserAgent = "blockyard/1.0 (+https://github.com/blockyard/blockyard)"

// HTTPClient wraps http.Client with common configuration and utilities
type HTTPClient struct {
	*http.Client
	logger *zap.Logger
	retry  RetryConfig
}

// NewHTTPClient creates a new HTTP client with the specified timeout
func NewHTTPClient(timeout time.Duration, retry RetryConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		Client: &http.Client{Timeout: timeout},
		logger: logger,
		retry:  retry,
	}
}

// WithTransport returns a copy of c sending requests through rt.
func (c *HTTPClient) WithTransport(rt http.RoundTripper) *HTTPClient {
	clone := *c.Client
	clone.Transport = rt
	return &HTTPClient{Client: &clone, logger: c.logger, retry: c.retry}
}

// Do performs an HTTP request. Callers must close the response body.
// Use CloseResponseBody for safe cleanup.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	return c.Client.Do(req)
}

// Get performs a GET with retries and returns the first 200 response.
// Callers must close the response body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	var out *http.Response
	err := WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := c.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			c.CloseResponseBody(resp.Body)
			return &domain.APIError{URL: rawURL, StatusCode: resp.StatusCode, Message: apiMessage(msg, resp.Status)}
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetJSON performs a GET with retries and decodes the JSON body into v.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, header http.Header, v any) error {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")
	resp, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	defer c.CloseResponseBody(resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// CloseResponseBody safely closes a response body, logging any errors
func (c *HTTPClient) CloseResponseBody(body io.Closer) {
	if body == nil {
		return
	}
	if err := body.Close(); err != nil {
		c.logger.Warn("Failed to close response body", zap.Error(err))
	}
}

// CloseResponseBodySilent closes a response body without logging (for health checks)
func CloseResponseBodySilent(body io.Closer) {
	if body != nil {
		_ = body.Close()
	}
}

func apiMessage(body []byte, status string) string {
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return status
}
