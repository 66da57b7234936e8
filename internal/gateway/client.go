// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/stream"
)

// Configuration constants for the gateway API.
const (
	// DefaultBaseURL is the base URL of a locally running gateway.
	DefaultBaseURL = "http://localhost:8790/api/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// defaultRequestsPerSecond paces outgoing requests so a fan-out over
	// many model slots does not burst past the gateway's limits.
	defaultRequestsPerSecond = 8
	defaultBurst             = 16
)

var (
	// Shared HTTP client with connection pooling for all gateway requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streaming lifetime is
	// controlled through the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// Error variables for common gateway errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("gateway API key not configured")

	// ErrAuthFailed indicates authentication failed.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrConversationNotFound indicates the conversation does not exist on
	// the gateway.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrModelNotFound indicates the requested model backend does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// GatewayError represents an error response from the gateway API.
type GatewayError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("gateway error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError carries the server's requested backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// apiErrorResponse is the gateway's error envelope.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// listResponse is the envelope around a message listing.
type listResponse struct {
	Data []*model.Message `json:"data"`
}

// appendPayload is the wire form of a message write.
type appendPayload struct {
	Role               string `json:"role"`
	Content            string `json:"content"`
	Thinking           string `json:"thinking,omitempty"`
	Model              string `json:"model,omitempty"`
	ProviderName       string `json:"provider_name,omitempty"`
	APIFormat          string `json:"api_format,omitempty"`
	ParentMessageID    string `json:"parent_message_id,omitempty"`
	ModelInstanceIndex int    `json:"model_instance_index"`
	InputTokens        int    `json:"input_tokens,omitempty"`
	OutputTokens       int    `json:"output_tokens,omitempty"`
}

// Client is a client for the relay gateway REST API. It implements the
// streaming Transport and the authoritative MessageAPI.
type Client struct {
	apiKey     string
	baseURL    string
	maxRetries int
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient creates a gateway client with the given API key. An empty key
// still produces a usable client; requests will fail with ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		maxRetries: DefaultMaxRetries,
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		userAgent:  "relay/0.3.0",
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit overrides the client-side request pacing.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Preflight reports whether the client can make requests. Wired as the
// session preflight check.
func (c *Client) Preflight() error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	return nil
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for
// logging. The key itself is never logged.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for gateway API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

// =============================================================================
// MESSAGE API
// =============================================================================

// Append persists one message and returns the saved record with its
// gateway-assigned id.
func (c *Client) Append(ctx context.Context, req stream.AppendRequest) (*model.Message, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	payload := appendPayload{
		Role:               req.Role.String(),
		Content:            req.Content,
		Thinking:           req.Thinking,
		Model:              req.Model,
		ProviderName:       req.ProviderName,
		APIFormat:          req.APIFormat,
		ParentMessageID:    req.ParentMessageID,
		ModelInstanceIndex: req.ModelInstanceIndex,
		InputTokens:        req.InputTokens,
		OutputTokens:       req.OutputTokens,
	}
	url := fmt.Sprintf("%s/conversations/%s/messages", c.baseURL, req.ConversationID)

	var saved model.Message
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// List fetches the authoritative message list for a conversation.
func (c *Client) List(ctx context.Context, conversationID string) ([]*model.Message, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	url := fmt.Sprintf("%s/conversations/%s/messages", c.baseURL, conversationID)

	var out listResponse
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// doJSON performs a JSON request with pacing and retry on transient errors.
func (c *Client) doJSON(ctx context.Context, method, url string, payload, out interface{}) error {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req)

		start := time.Now()
		resp, err := sharedHTTPClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			lastErr = err
			continue
		}

		respBody, err := readResponse(resp)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			return nil
		}

		apiErr := c.errorFrom(resp, respBody)
		if !isRetryable(apiErr) {
			return apiErr
		}
		log.Printf("gateway: %s %s failed after %v, retrying: %v",
			method, req.URL.Path, time.Since(start), apiErr)
		lastErr = apiErr
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// readResponse reads a response body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// errorFrom converts an HTTP error response to an appropriate Go error.
func (c *Client) errorFrom(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return rateLimitError(resp)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		gwErr := &GatewayError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  resp.StatusCode,
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthFailed, gwErr.Message)
		case http.StatusNotFound:
			if gwErr.Code == "model_not_found" {
				return fmt.Errorf("%w: %s", ErrModelNotFound, gwErr.Message)
			}
			return fmt.Errorf("%w: %s", ErrConversationNotFound, gwErr.Message)
		default:
			return gwErr
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrConversationNotFound
	default:
		return &GatewayError{Message: string(body), Status: resp.StatusCode}
	}
}

// rateLimitError builds a RateLimitError from the Retry-After header.
func rateLimitError(resp *http.Response) error {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return ErrRateLimited
	}
	if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
		return &RateLimitError{RetryAfter: d}
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return ErrRateLimited
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Status >= 500 && gwErr.Status < 600
	}
	return false
}

// backoffDelay returns the delay before the next retry attempt, honoring a
// server-requested Retry-After when present.
func backoffDelay(attempt int, lastErr error) time.Duration {
	var rlErr *RateLimitError
	if errors.As(lastErr, &rlErr) && rlErr.RetryAfter > 0 && rlErr.RetryAfter < retryMaxDelay {
		return rlErr.RetryAfter
	}
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
