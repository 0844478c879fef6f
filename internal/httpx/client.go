package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

// Observer is told about every attempt. status is the HTTP status code, or 0
// when the request failed before a response arrived.
type Observer func(host string, status int, elapsed time.Duration)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	observe    Observer
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "xbridge/1.0",
	}
}

// WithObserver returns a copy of c that reports attempts to fn.
func (c *Client) WithObserver(fn Observer) *Client {
	cp := *c
	cp.observe = fn
	return &cp
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = backoff(attempt)
			}
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(wait):
			}
			wait = 0
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		started := time.Now()
		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			c.report(req, 0, started)
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		c.report(req, resp.StatusCode, started)
		if readErr != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read provider response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = clierr.New(clierr.CodeRateLimited, "provider rate limited request")
			wait = retryAfter(resp.Header)
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, clierr.New(clierr.CodeAuth, "provider authentication failed")
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = clierr.New(clierr.CodeUnavailable, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := fmt.Sprintf("provider returned unexpected status %d", resp.StatusCode)
			if detail := errorMessage(buf); detail != "" {
				msg += ": " + detail
			}
			return resp.Header, clierr.New(clierr.CodeUnsupported, msg)
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, clierr.New(clierr.CodeUnavailable, "provider returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "decode provider JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

// GetJSON issues a GET to url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	_, err = c.DoJSON(ctx, req, out)
	return err
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func (c *Client) report(req *http.Request, status int, started time.Time) {
	if c.observe == nil {
		return
	}
	c.observe(req.URL.Hostname(), status, time.Since(started))
}

// retryAfter reads a Retry-After header given in seconds, capped at maxRetryAfter.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

const maxRetryAfter = 5 * time.Second

// errorMessage extracts the message field bridge aggregators put in 4xx bodies.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if m := strings.TrimSpace(payload.Message); m != "" {
		return m
	}
	if e, ok := payload.Error.(string); ok {
		return strings.TrimSpace(e)
	}
	return ""
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
		}
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
