// Package provider is the HTTP gateway shared by every external data source.
// It owns retries, per-request deadlines, response size limits and the
// mapping of transport and HTTP failures onto error kinds. Nothing else in
// the module classifies network errors.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseSize limits response bodies to prevent memory exhaustion.
const maxResponseSize = 16 * 1024 * 1024 // 16MB

// DefaultRequestTimeout bounds a single attempt.
const DefaultRequestTimeout = 8 * time.Second

// Observer receives one callback per attempt. Outcome is "ok" or an error kind.
type Observer interface {
	ObserveRequest(provider, endpoint, outcome string, elapsed time.Duration)
}

// Client issues GET requests against one provider base URL.
type Client struct {
	name            string
	baseURL         string
	httpClient      *http.Client
	retryConfig     RetryConfig
	shouldRetry     func(error) bool
	requestTimeout  time.Duration
	maxResponseSize int64
	userAgent       string
	observer        Observer
	logger          *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithRetryPolicy replaces the predicate deciding which failures are retried.
// The default retries RateLimited and ProviderUnavailable.
func WithRetryPolicy(fn func(error) bool) ClientOption {
	return func(client *Client) {
		client.shouldRetry = fn
	}
}

// WithRequestTimeout sets the deadline applied to each attempt.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.requestTimeout = d
	}
}

// WithMaxResponseSize overrides the response body limit.
func WithMaxResponseSize(n int64) ClientOption {
	return func(client *Client) {
		client.maxResponseSize = n
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(client *Client) {
		client.userAgent = ua
	}
}

// WithObserver attaches a request observer, typically metrics.
func WithObserver(o Observer) ClientOption {
	return func(client *Client) {
		client.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client for the named provider rooted at baseURL.
func NewClient(name, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		name:            name,
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		retryConfig:     DefaultRetryConfig(),
		shouldRetry:     IsRetryable,
		requestTimeout:  DefaultRequestTimeout,
		maxResponseSize: maxResponseSize,
		userAgent:       "propscout/1.0",
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider label used in errors, logs and metrics.
func (c *Client) Name() string { return c.name }

// BaseURL returns the configured root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one GET.
type Request struct {
	// Endpoint labels the request in logs and metrics. Defaults to Path.
	Endpoint string
	Path     string
	Query    url.Values
	Header   http.Header
	// Accept defaults to application/json.
	Accept string
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs req with retries and returns the raw response.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	return c.doWithRetry(ctx, req, nil)
}

// GetJSON performs req with retries and decodes the body into v.
// A body that is not valid JSON is ProviderUnavailable and is retried.
func (c *Client) GetJSON(ctx context.Context, req Request, v any) error {
	_, err := c.doWithRetry(ctx, req, func(body []byte) error {
		if err := json.Unmarshal(body, v); err != nil {
			return Errorf(KindProviderUnavailable, c.name, "decode response: %w", err)
		}
		return nil
	})
	return err
}

func (c *Client) doWithRetry(ctx context.Context, req Request, decode func([]byte) error) (*Response, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}

	maxAttempts := c.retryConfig.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		resp, err := c.doRequest(ctx, req)
		if err == nil && decode != nil {
			err = decode(resp.Body)
		}
		c.observe(endpoint, err, time.Since(started))

		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, NewError(KindProviderUnavailable, c.name, ctx.Err())
		}
		if !c.shouldRetry(err) || attempt == maxAttempts {
			break
		}

		backoff := c.retryConfig.Backoff(attempt)
		c.logger.Debug("Provider request failed, retrying",
			"provider", c.name,
			"endpoint", endpoint,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", backoff,
			"error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, NewError(KindProviderUnavailable, c.name, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// doRequest executes a single attempt under the per-request deadline.
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, Errorf(KindBadRequest, c.name, "create HTTP request: %w", err)
	}

	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Errorf(KindProviderUnavailable, c.name, "HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	// Read one byte past the limit so truncation is detectable.
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, Errorf(KindProviderUnavailable, c.name, "read response body: %w", err)
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, Errorf(KindProviderUnavailable, c.name, "response exceeds %d bytes", c.maxResponseSize)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, classifyHTTPError(c.name, httpResp.StatusCode, body)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func (c *Client) observe(endpoint string, err error, elapsed time.Duration) {
	if c.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	c.observer.ObserveRequest(c.name, endpoint, outcome, elapsed)
}

// classifyHTTPError maps a non-2xx status onto an error kind.
func classifyHTTPError(provider string, statusCode int, body []byte) error {
	bodyStr := strings.TrimSpace(string(body))
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	var kind Kind
	switch {
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case statusCode == http.StatusUnauthorized:
		kind = KindUnauthorized
	case statusCode >= 500:
		kind = KindProviderUnavailable
	default:
		kind = KindBadRequest
	}

	return &Error{
		Kind:     kind,
		Provider: provider,
		Status:   statusCode,
		Err:      fmt.Errorf("API error: %s", bodyStr),
	}
}
