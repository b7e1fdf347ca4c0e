// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 512

// RateLimitError reports an HTTP 429 or 503 response.
type RateLimitError struct {
	Status int

	// RetryAfter is the parsed Retry-After hint, zero when absent or invalid.
	RetryAfter time.Duration

	// Raw is the Retry-After header value as received.
	Raw string
}

func (e *RateLimitError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("rate limited: HTTP %d (retry-after %q)", e.Status, e.Raw)
	}
	return fmt.Sprintf("rate limited: HTTP %d", e.Status)
}

// StatusError reports any other non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status %d", e.Status)
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.Status, e.Body)
}

// AsRateLimit unwraps a *RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// Do executes req with ctx and checks the response status. On success the
// caller owns the response body. On failure the body is drained and closed.
func Do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req.Clone(ctx))
	if err != nil {
		return nil, err
	}
	if err := CheckResponse(resp, time.Now()); err != nil {
		return nil, err
	}
	return resp, nil
}

// CheckResponse returns nil for 2xx responses. Otherwise it drains and closes
// the body and returns a *RateLimitError (429, 503) or a *StatusError.
func CheckResponse(resp *http.Response, now time.Time) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		io.Copy(io.Discard, resp.Body)
		raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
		return &RateLimitError{
			Status:     resp.StatusCode,
			RetryAfter: ParseRetryAfter(raw, now),
			Raw:        raw,
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	io.Copy(io.Discard, resp.Body)
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// ParseRetryAfter parses a Retry-After value given either as delay seconds
// or as an HTTP-date. It returns zero for empty, invalid or past values.
func ParseRetryAfter(raw string, now time.Time) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(raw)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
