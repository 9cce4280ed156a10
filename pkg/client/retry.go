package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryPolicy controls RequestWithRetry.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the base delay; attempt n waits RetryDelay*(n+1).
	RetryDelay time.Duration

	// ShouldRetry decides whether a failure may be retried.
	ShouldRetry func(error) bool
}

// RetryOption customizes the policy of one RequestWithRetry call.
type RetryOption func(*RetryPolicy)

// WithMaxRetries overrides the number of retries.
func WithMaxRetries(n int) RetryOption {
	return func(p *RetryPolicy) { p.MaxRetries = n }
}

// WithRetryDelay overrides the base delay.
func WithRetryDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.RetryDelay = d }
}

// WithRetryPredicate overrides which errors are retried.
func WithRetryPredicate(fn func(error) bool) RetryOption {
	return func(p *RetryPolicy) { p.ShouldRetry = fn }
}

// DefaultRetryPolicy returns the policy for a method: reads retry three
// times, writes twice; only 429 and 503 are retried.
func DefaultRetryPolicy(method string) RetryPolicy {
	p := RetryPolicy{
		MaxRetries:  2,
		RetryDelay:  1 * time.Second,
		ShouldRetry: RetryOnRateLimit,
	}
	if isRead(method) {
		p.MaxRetries = 3
	}
	return p
}

func (c *Client) policyFor(method string, opts []RetryOption) RetryPolicy {
	p := DefaultRetryPolicy(method)
	p.RetryDelay = c.config.RetryDelay
	if isRead(method) {
		p.MaxRetries = c.config.ReadMaxRetries
	} else {
		p.MaxRetries = c.config.WriteMaxRetries
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = RetryOnRateLimit
	}
	return p
}

// RequestWithRetry calls Request and retries failures accepted by the
// policy with linear backoff. Errors outside the predicate, and the last
// error once retries are exhausted, are returned unchanged.
func (c *Client) RequestWithRetry(ctx context.Context, method, path string, body any, query Params, opts ...RetryOption) (json.RawMessage, error) {
	policy := c.policyFor(method, opts)

	for attempt := 0; ; attempt++ {
		data, err := c.Request(ctx, method, path, body, query)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("method", method).
					Str("path", path).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return data, nil
		}

		class := classOf(err)
		if !policy.ShouldRetry(err) {
			return nil, err
		}
		if attempt >= policy.MaxRetries {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			c.logger.Warn().
				Str("method", method).
				Str("path", path).
				Str("error_class", string(class)).
				Int("attempts", attempt+1).
				Msg("Retry attempts exhausted")
			return nil, err
		}

		delay := policy.RetryDelay * time.Duration(attempt+1)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", StatusOf(err)).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}
}

// Direct performs a single attempt without retries. It exists for health
// and diagnostic probes that must not amplify load.
func (c *Client) Direct(ctx context.Context, method, path string, body any, query Params) (json.RawMessage, error) {
	return c.Request(ctx, method, path, body, query)
}

func classOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassNetwork
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == ""
}
