// Package transport implements the resilient HTTP client every outbound
// call (batch delivery, flag definition polling, remote decisions) goes
// through: JSON encoding, optional gzip, retry with exponential backoff,
// and Retry-After handling.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// Config controls retry and compression behavior.
type Config struct {
	Host              string
	APIKey            string
	HTTPClient        *http.Client
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	EnableCompression bool
	UserAgent         string
}

// DefaultConfig matches the defaults named in the client's configuration
// surface.
func DefaultConfig() Config {
	return Config{
		Host:              "https://us.i.driftline.io",
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		MaxRetries:        3,
		InitialRetryDelay: time.Second,
		MaxRetryDelay:     30 * time.Second,
		UserAgent:         fmt.Sprintf("driftline-go/1.0 (%s; %s)", runtime.GOOS, runtime.GOARCH),
	}
}

// Client is the shared HTTP client.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = DefaultConfig().HTTPClient
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = DefaultConfig().InitialRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultConfig().MaxRetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	return &Client{cfg: cfg}
}

// NotFoundError is returned for a 404 response, distinct from other
// non-2xx statuses so callers can special-case a missing resource.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Path) }

// APIError wraps a non-2xx response other than 304, 401, 403 and 404,
// carrying the structured API error decoded from its body when present.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Detail     string `json:"detail"`
	Attr       string `json:"attr"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s: %s", e.StatusCode, e.Code, e.Detail)
}

// UnauthorizedError is returned for a 401/403 response.
type UnauthorizedError struct {
	StatusCode int
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized (status %d)", e.StatusCode)
}

// Do sends a JSON request to path and decodes a JSON response into out
// (which may be nil when the caller doesn't need the body). It retries
// transient failures with exponential backoff, honoring Retry-After when
// present, until ctx is cancelled or attempts are exhausted.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, payload any, out any) error {
	_, err := c.DoHeaders(ctx, method, path, headers, payload, out)
	return err
}

// Result carries the parts of a response DoHeaders callers need beyond the
// decoded body: the status actually returned (so a 304 can be told apart
// from a 2xx even though both decode as a nil error) and its headers.
type Result struct {
	StatusCode int
	Header     http.Header
}

// DoHeaders behaves exactly like Do but also returns the final response's
// status and headers, for callers (the flag definition loader) that need
// to tell a 304 apart from a 2xx and read ETag back out.
func (c *Client) DoHeaders(ctx context.Context, method, path string, headers map[string]string, payload any, out any) (Result, error) {
	body, err := c.encodeBody(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode request body: %w", err)
	}

	backoff := c.cfg.InitialRetryDelay
	var waitFor time.Duration
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(waitFor):
			}
		}

		resp, retryAfter, err := c.doOnce(ctx, method, path, headers, body, out)
		if err == nil {
			result := Result{}
			if resp != nil {
				result.StatusCode = resp.StatusCode
				result.Header = resp.Header
			}
			return result, nil
		}
		lastErr = err

		if !c.shouldRetry(err) || attempt == c.cfg.MaxRetries {
			return Result{}, err
		}

		// The wait for the upcoming retry uses Retry-After (clamped, never
		// doubled) if the server sent one, otherwise the current
		// un-doubled backoff. The persisted backoff only advances for the
		// round after that, independent of any Retry-After seen here.
		if resp != nil && resp.Header.Get("Retry-After") != "" {
			waitFor = retryAfter
			if waitFor > c.cfg.MaxRetryDelay {
				waitFor = c.cfg.MaxRetryDelay
			}
		} else {
			waitFor = backoff
		}
		backoff = c.nextBackoff(backoff)
	}

	if lastErr != nil {
		return Result{}, lastErr
	}
	panic("unreachable: retry loop exited without a result")
}

// nextBackoff doubles delay with overflow protection: once delay is
// already at (or beyond half of) the ceiling, jump straight to the
// ceiling instead of risking an overflowing multiply.
func (c *Client) nextBackoff(delay time.Duration) time.Duration {
	max := c.cfg.MaxRetryDelay
	if delay >= max || delay > max/2 {
		return max
	}
	return delay * 2
}

func (c *Client) encodeBody(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

// doOnce performs exactly one HTTP attempt, fully draining and closing the
// response body before returning on every path.
func (c *Client) doOnce(ctx context.Context, method, path string, headers map[string]string, body []byte, out any) (*http.Response, time.Duration, error) {
	var reqBody io.Reader
	contentEncoding := ""

	if body != nil {
		if c.cfg.EnableCompression {
			compressed, err := gzipCompress(body)
			if err != nil {
				return nil, 0, fmt.Errorf("gzip request body: %w", err)
			}
			reqBody = bytes.NewReader(compressed)
			contentEncoding = "gzip"
		} else {
			reqBody = bytes.NewReader(body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Host+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, 0, err
	}

	if resp.StatusCode == http.StatusNotModified {
		return resp, 0, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return resp, 0, fmt.Errorf("decode response body: %w", err)
			}
		}
		return resp, 0, nil
	}

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if resp.StatusCode == http.StatusNotFound {
		return resp, retryAfter, &NotFoundError{Path: path}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp, retryAfter, &UnauthorizedError{StatusCode: resp.StatusCode}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	_ = json.Unmarshal(respBody, apiErr)
	if apiErr.Detail == "" {
		apiErr.Detail = string(respBody)
	}
	return resp, retryAfter, apiErr
}

func (c *Client) shouldRetry(err error) bool {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode >= 500
	}
	if _, ok := err.(*NotFoundError); ok {
		return false
	}
	if _, ok := err.(*UnauthorizedError); ok {
		return false
	}
	return true // network-level error
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseRetryAfter handles both the delta-seconds and HTTP-date forms,
// clamping a past HTTP-date to zero.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}
