package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/services/auth"
)

// HTTPClient handles HTTP communication with the API.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	tokens    auth.TokenSource
	timeout   time.Duration
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, tokens auth.TokenSource, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client:     &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		tokens:     tokens,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// Send performs req, retrying transient failures with exponential backoff.
// Every attempt is bounded by the configured timeout.
func (c *HTTPClient) Send(ctx context.Context, r Request) (map[string]interface{}, error) {
	url := c.baseURL + r.Path

	var body []byte
	if r.Body != nil {
		var err error
		if body, err = json.Marshal(r.Body); err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": r.Method,
		"url":    url,
		"size":   len(body),
	}).Debug("Sending request")

	var result map[string]interface{}
	err := c.retry(ctx, func() error {
		var err error
		result, err = c.do(ctx, r, url, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) do(ctx context.Context, r Request, url string, body []byte) (map[string]interface{}, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w: %w", models.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", models.ErrNetworkFailure, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(respBody),
	}).Debug("Received response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp, respBody)
	}

	result := make(map[string]interface{})
	if len(bytes.TrimSpace(respBody)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	// Some endpoints wrap the record as {"data": {...}}.
	if data, ok := result["data"].(map[string]interface{}); ok && len(result) == 1 {
		return data, nil
	}
	return result, nil
}

// Ping reports whether the API answers. Any status below 500 counts as
// reachable, including 404 from a missing probe path.
func (c *HTTPClient) Ping(ctx context.Context, path string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w: %w", models.ErrNetworkFailure, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// A gateway answering 5xx means the API itself is still unreachable.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ping: %w: status %d", models.ErrNetworkFailure, resp.StatusCode)
	}
	return nil
}

func decodeAPIError(resp *http.Response, body []byte) error {
	apiErr := &models.APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err == nil {
		apiErr.Code = stringField(fields, "code", "error")
		apiErr.Message = stringField(fields, "message", "error_description", "error")
		if id := stringField(fields, "request_id"); id != "" {
			apiErr.RequestID = id
		}
	}

	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func stringField(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// maxBackoff caps the doubling delay between attempts.
const maxBackoff = 5 * time.Second

// retry calls fn until it succeeds, returns a terminal error, or the retry
// budget runs out. Only errors models.IsRetryable accepts are retried.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	delay := c.retryDelay
	var err error

	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !models.IsRetryable(err) {
			return err
		}
		if attempt >= c.maxRetries {
			break
		}

		c.logger.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).WithError(err).Debug("Retrying request")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		if delay = 2 * delay; delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return fmt.Errorf("max retries exceeded: %w", err)
}
