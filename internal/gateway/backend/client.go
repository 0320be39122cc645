// Package backend talks to the managed-print backend: resource calls with a
// bearer credential, and the login, refresh and logout exchanges.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/printdesk/internal/gateway/payload"
	"github.com/aussiebroadwan/printdesk/pkg/slogx"

	retry "github.com/appleboy/go-httpretry"
)

const (
	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes bounds a buffered upstream response.
	DefaultMaxResponseBytes int64 = 32 << 20
)

// Request headers copied from the browser to the backend.
var forwardedRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"If-None-Match",
	"If-Modified-Since",
	slogx.RequestIDHeader,
}

// Response headers copied from the backend to the browser. Set-Cookie is
// deliberately absent: the gateway owns the browser's cookies.
var forwardedResponseHeaders = []string{
	"Content-Type",
	"Content-Disposition",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// Request is one outbound resource call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   *payload.Snapshot
}

// Response is a successful (status < 400) upstream answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Observer receives one sample per upstream call.
type Observer interface {
	ObserveUpstream(operation string, status int, elapsed time.Duration)
}

// Client calls the backend. Calls are never retried here: whether to call
// again is the caller's decision.
type Client struct {
	BaseURL          string
	HTTPClient       *http.Client
	Timeout          time.Duration
	MaxResponseBytes int64
	HealthPath       string
	Observer         Observer

	prober *retry.Client
}

// NewClient returns a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend URL has no host: %q", baseURL)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
		// Redirects from the backend are answers, not something to follow
		// with a bearer credential attached.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	prober, err := retry.NewClient(retry.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create probe client: %w", err)
	}

	return &Client{
		BaseURL:          strings.TrimSuffix(baseURL, "/"),
		HTTPClient:       httpClient,
		Timeout:          timeout,
		MaxResponseBytes: DefaultMaxResponseBytes,
		HealthPath:       "/health",
		prober:           prober,
	}, nil
}

// Call performs exactly one upstream call with accessToken attached as a
// bearer credential. Any status >= 400 is returned as *Error.
func (c *Client) Call(ctx context.Context, req Request, accessToken string) (*Response, error) {
	var body io.Reader = http.NoBody
	if req.Body != nil {
		r, err := req.Body.Reader()
		if err != nil {
			return nil, err
		}
		body = r
	}

	header := make(http.Header)
	for _, name := range forwardedRequestHeaders {
		if v := req.Header.Values(name); len(v) > 0 {
			header[http.CanonicalHeaderKey(name)] = v
		}
	}
	if req.Body != nil && req.Body.ContentType() != "" {
		header.Set("Content-Type", req.Body.ContentType())
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	header.Set("Authorization", "Bearer "+accessToken)

	path := req.Path
	if len(req.Query) > 0 {
		path += "?" + req.Query.Encode()
	}

	resp, err := c.do(ctx, "call", req.Method, path, body, header)
	if err != nil {
		return nil, err
	}

	out := &Response{Status: resp.status, Header: make(http.Header), Body: resp.body}
	for _, name := range forwardedResponseHeaders {
		if v := resp.header.Values(name); len(v) > 0 {
			out.Header[http.CanonicalHeaderKey(name)] = v
		}
	}
	return out, nil
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// do sends one request and buffers the answer. Transport failures, timeouts
// and unreadable bodies are network errors; statuses >= 400 are status
// errors.
func (c *Client) do(
	ctx context.Context,
	operation, method, path string,
	body io.Reader,
	header http.Header,
) (*rawResponse, error) {
	start := time.Now()
	status := 0
	defer func() {
		if c.Observer != nil {
			c.Observer.ObserveUpstream(operation, status, time.Since(start))
		}
	}()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = header

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to read response body: %w", err))
	}
	if int64(len(respBody)) > limit {
		return nil, networkError(fmt.Errorf("response body exceeds %d bytes", limit))
	}

	status = resp.StatusCode
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(resp.StatusCode, respBody)
	}

	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Ping probes the backend health endpoint. Unlike resource calls the probe
// is idempotent, so transient failures are retried.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+c.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	prober := c.prober
	if prober == nil {
		if prober, err = retry.NewClient(retry.WithHTTPClient(c.httpClient())); err != nil {
			return err
		}
	}

	resp, err := prober.DoWithContext(ctx, req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp.StatusCode, nil)
	}
	return nil
}
