// Package api is the client for the Dataverse native API endpoints that
// direct upload depends on.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/http"
	"github.com/iqss/dataverse-int/internal/logging"
	"github.com/iqss/dataverse-int/internal/models"
	"github.com/iqss/dataverse-int/internal/ratelimit"
	"github.com/iqss/dataverse-int/internal/version"
)

// retryLogger adapts a Logger to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Every attempt logs at info; too noisy for the console.
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// apiMetrics tracks API usage for the debug log.
type apiMetrics struct {
	sync.Mutex
	totalCalls  int64
	callsByPath map[string]int64
}

// Client talks to one Dataverse installation.
type Client struct {
	httpClient *nethttp.Client
	baseURL    string
	apiKey     string
	limiter    *ratelimit.RateLimiter
	logger     *logging.Logger
	metrics    *apiMetrics
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	retryMax int
	logger   *logging.Logger
	limiter  *ratelimit.RateLimiter
}

// WithRetryMax sets how many times a failed request is retried.
func WithRetryMax(n int) Option {
	return func(o *clientOptions) { o.retryMax = n }
}

// WithLogger routes client logs to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithRateLimiter replaces the default API rate limiter.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(o *clientOptions) { o.limiter = rl }
}

// NewClient creates a client for cfg.ServerURL authenticated by cfg.APIKey.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, fmt.Errorf("server URL is empty: %w", config.ErrMissingServerURL)
	}
	if _, err := url.ParseRequestURI(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", cfg.ServerURL, err)
	}

	o := clientOptions{retryMax: 5}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	if o.limiter == nil {
		o.limiter = ratelimit.NewAPIRateLimiter()
	}

	baseURL := strings.TrimSuffix(cfg.ServerURL, "/")

	// Configure HTTP client with proxy support
	httpClient, err := http.ConfigureHTTPClient(cfg.Proxy, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	// Wrap with retry logic
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = o.retryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = &retryLogger{logger: o.logger}
	// Hand the last response back instead of a generic "giving up" error
	// so Dataverse's error message reaches the caller.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: retryClient.StandardClient(),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		limiter:    o.limiter,
		logger:     o.logger,
		metrics:    &apiMetrics{callsByPath: make(map[string]int64)},
	}, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// resolve turns an API path or an absolute endpoint into a URL.
// Endpoints returned by the server (abort, complete) may be either.
func (c *Client) resolve(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	if !strings.HasPrefix(pathOrURL, "/") {
		pathOrURL = "/" + pathOrURL
	}
	return c.baseURL + pathOrURL
}

// doRequest performs an authenticated, rate limited request.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	c.metrics.Lock()
	c.metrics.totalCalls++
	c.metrics.callsByPath[method+" "+metricPath(path)]++
	c.metrics.Unlock()

	req, err := nethttp.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Dataverse-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug().Str("method", method).Str("path", metricPath(path)).Err(err).Msg("API call failed")
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		c.logger.Warn().Str("method", method).Str("path", metricPath(path)).Msg("throttled by server")
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			c.limiter.SetCooldown(time.Duration(secs) * time.Second)
		} else {
			c.limiter.Drain()
		}
	}

	return resp, nil
}

// metricPath drops the query string, which carries signatures and ids.
func metricPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// CallCounts returns how many calls were made per endpoint.
func (c *Client) CallCounts() map[string]int64 {
	c.metrics.Lock()
	defer c.metrics.Unlock()
	out := make(map[string]int64, len(c.metrics.callsByPath))
	for k, v := range c.metrics.callsByPath {
		out[k] = v
	}
	return out
}

// decodeResponse checks the status and the Dataverse envelope and decodes
// data into out (which may be nil).
func decodeResponse(resp *nethttp.Response, op string, out interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(op, resp.StatusCode, body)
	}

	if len(body) == 0 {
		return nil
	}

	var env models.APIResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	if env.Status != "" && env.Status != "OK" {
		return &APIError{Op: op, HTTPStatus: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: failed to decode data: %w", op, err)
	}
	return nil
}

// GetCurrentUser returns the account the API key belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (*models.User, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/users/:me", nil, "")
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := decodeResponse(resp, "get current user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetServerVersion returns the Dataverse version. The endpoint needs no
// authentication, so it also checks reachability.
func (c *Client) GetServerVersion(ctx context.Context) (*models.ServerVersion, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/info/version", nil, "")
	if err != nil {
		return nil, err
	}
	var v models.ServerVersion
	if err := decodeResponse(resp, "get server version", &v); err != nil {
		return nil, err
	}
	if v.Version == "" {
		return nil, errors.New("get server version: empty version in response")
	}
	return &v, nil
}
