// Package client provides the portal API request client: one transport
// primitive with credential injection, envelope unwrapping and conditional
// GETs, plus a retry wrapper, a direct probe path and file upload.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/portal-sync/pkg/cache"
	"github.com/Sternrassler/portal-sync/pkg/logging"
	"github.com/rs/zerolog"
)

// Header names used on the wire.
const (
	HeaderCSRF        = "X-CSRF-Token"
	HeaderIfNoneMatch = "If-None-Match"
	HeaderETag        = "ETag"
)

// Params are query parameters. Nil values are omitted from the URL; slices
// of strings produce repeated keys.
type Params map[string]any

// Client is the portal API client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	validators  cache.Store
	credentials CredentialSource
	config      Config
	logger      zerolog.Logger

	// sleep waits between retry attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is joined with every request path (e.g. "https://portal/api").
	BaseURL string

	// HTTPClient carries session cookies; a client with a 30s timeout is used when nil.
	HTTPClient *http.Client

	// Validators stores ETags for conditional GETs (default: in-memory).
	Validators cache.Store

	// Credentials supplies the anti-forgery token for mutating requests.
	Credentials CredentialSource

	// UserAgent is sent when set.
	UserAgent string

	// Retry
	RetryDelay      time.Duration
	ReadMaxRetries  int
	WriteMaxRetries int

	// Logger defaults to the global logger tagged "client".
	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration for a base URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		RetryDelay:      1 * time.Second,
		ReadMaxRetries:  3,
		WriteMaxRetries: 2,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative (got %s)", cfg.RetryDelay)
	}
	if cfg.ReadMaxRetries < 0 || cfg.WriteMaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	validators := cfg.Validators
	if validators == nil {
		validators = cache.NewMemoryStore()
	}
	logger := logging.NewLogger("client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     base,
		validators:  validators,
		credentials: cfg.Credentials,
		config:      cfg,
		logger:      logger,
		sleep:       sleepContext,
	}, nil
}

// Request performs exactly one HTTP call and returns the envelope-unwrapped
// response data. Every failure is an *APIError.
func (c *Client) Request(ctx context.Context, method, path string, body any, query Params) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	fullURL := c.resolve(path, query)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, newNetworkError(fullURL, fmt.Errorf("encode request body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, newNetworkError(fullURL, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req)
}

// do sends a prepared request and normalizes the outcome.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	ctx := req.Context()
	method := req.Method
	fullURL := req.URL.String()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if method != http.MethodGet {
		c.attachCSRF(req)
	}

	// Conditional GET
	var key string
	var cached *cache.Entry
	if method == http.MethodGet {
		key = cache.Key(fullURL)
		entry, err := c.validators.Get(ctx, key)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("url", fullURL).Msg("Validator lookup failed")
		}
		if err == nil && cache.ShouldMakeConditionalRequest(entry) {
			cached = entry
			cache.AddConditionalHeaders(req, entry)
			c.logger.Debug().
				Str("url", fullURL).
				Str("etag", entry.ETag).
				Dur("age", entry.Age()).
				Msg("Making conditional request")
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		c.logger.Debug().Err(err).Str("method", method).Str("url", fullURL).Msg("HTTP request failed")
		return nil, newNetworkError(fullURL, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified && method == http.MethodGet {
		_, _ = io.Copy(io.Discard, resp.Body)
		if cached == nil {
			errorsTotal.WithLabelValues(string(ErrorClassProtocol)).Inc()
			apiErr := newHTTPError(resp.StatusCode, fullURL, "")
			apiErr.Class = ErrorClassProtocol
			apiErr.Err = ErrNotModifiedWithoutEntry
			return nil, apiErr
		}
		cache.NotModifiedResponses.Inc()
		c.logger.Debug().Str("url", fullURL).Msg("304 Not Modified - using cached body")
		return cached.Body, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, newNetworkError(fullURL, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serverMsg, ok := parseErrorBody(raw)
		if !ok || serverMsg == "" {
			serverMsg = http.StatusText(resp.StatusCode)
		}
		apiErr := newHTTPError(resp.StatusCode, fullURL, serverMsg)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		if cached != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) {
			c.dropValidator(ctx, key)
		}
		c.logger.Debug().
			Str("method", method).
			Str("url", fullURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class)).
			Msg("API request error")
		return nil, apiErr
	}

	data, envMsg, ok, err := unwrapEnvelope(raw)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, newNetworkError(fullURL, err)
	}
	if !ok {
		errorsTotal.WithLabelValues(string(ErrorClassEnvelope)).Inc()
		if envMsg == "" {
			envMsg = "Request failed."
		}
		return nil, &APIError{
			Status:        resp.StatusCode,
			URL:           fullURL,
			Message:       envMsg,
			ServerMessage: envMsg,
			Class:         ErrorClassEnvelope,
		}
	}

	if method == http.MethodGet {
		if etag := cache.ValidatorFrom(resp); etag != "" {
			if err := c.validators.Set(ctx, key, cache.NewEntry(etag, data)); err != nil {
				c.logger.Warn().Err(err).Str("url", fullURL).Msg("Failed to store validator")
			}
		}
	}

	return data, nil
}

// dropValidator forgets the validator of a resource that no longer exists.
func (c *Client) dropValidator(ctx context.Context, key string) {
	if err := c.validators.Delete(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to drop validator")
	}
}

func (c *Client) attachCSRF(req *http.Request) {
	if c.credentials == nil {
		return
	}
	if token, ok := c.credentials.CSRFToken(); ok {
		req.Header.Set(HeaderCSRF, token)
	}
}

// resolve joins the base URL with path and query. Absolute URLs are used as given.
func (c *Client) resolve(path string, query Params) string {
	var u *url.URL
	if parsed, err := url.Parse(path); err == nil && parsed.IsAbs() {
		u = parsed
	} else {
		p, rawQuery, _ := strings.Cut(path, "?")
		joined := *c.baseURL
		joined.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(p, "/")
		joined.RawPath = ""
		joined.RawQuery = rawQuery
		u = &joined
	}

	if len(query) == 0 {
		return u.String()
	}
	values := u.Query()
	for k, v := range query {
		appendParam(values, k, v)
	}
	u.RawQuery = values.Encode()
	return u.String()
}

func appendParam(values url.Values, key string, v any) {
	switch val := v.(type) {
	case nil:
	case string:
		values.Add(key, val)
	case *string:
		if val != nil {
			values.Add(key, *val)
		}
	case *int:
		if val != nil {
			values.Add(key, strconv.Itoa(*val))
		}
	case *bool:
		if val != nil {
			values.Add(key, strconv.FormatBool(*val))
		}
	case []string:
		for _, s := range val {
			values.Add(key, s)
		}
	case fmt.Stringer:
		values.Add(key, val.String())
	default:
		values.Add(key, fmt.Sprint(val))
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Validators returns the validator store (for testing).
func (c *Client) Validators() cache.Store {
	return c.validators
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
