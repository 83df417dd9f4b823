package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Shared HTTP Harness
//
// Every provider adapter calls upstream through this client. It owns the
// cross-cutting transport policy so adapters stay pure request-builders:
//
//   - per-call timeout (default 15s)
//   - up to 4 attempts; retries ONLY on timeout / transport error
//   - any HTTP response, 4xx and 5xx included, is returned to the caller
//   - backoff before retry i (0-indexed): 2^i + jitter[0,1) seconds
//   - fixed User-Agent and Accept: application/json unless overridden

const (
	defaultTimeout = 15 * time.Second
	defaultRetries = 4
	userAgent      = "Threat-Forge/1.0"
)

// Response is the decoded outcome of one upstream call.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client is the retrying HTTP harness. The zero value is not usable;
// construct with New. Safe for concurrent use.
type Client struct {
	http       *http.Client
	maxRetries int

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a harness with the default timeout and retry policy.
func New() *Client {
	return &Client{
		http:       &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultRetries,
		sleep:      sleepCtx,
	}
}

// NewWithOptions builds a harness with an explicit timeout and retry budget.
func NewWithOptions(timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

// Get performs a GET with optional headers and query parameters.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers, query, nil, "")
}

// PostJSON performs a POST with a JSON-encoded body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, headers, nil, payload, "application/json")
}

// PostForm performs a POST with a URL-encoded form body.
func (c *Client) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, headers, nil, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string, query url.Values, body []byte, contentType string) (*Response, error) {
	target := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		target = rawURL + sep + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil {
				// Any HTTP status is a terminal answer; retrying a 4xx
				// would just burn provider quota.
				return &Response{StatusCode: resp.StatusCode, Body: data}, nil
			}
			err = readErr
		}

		lastErr = err
		log.Printf("[HTTP] %s %s failed (attempt %d/%d): %v", method, rawURL, attempt+1, c.maxRetries, err)

		if attempt < c.maxRetries-1 {
			delay := time.Duration((math.Pow(2, float64(attempt)) + rand.Float64()) * float64(time.Second))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
