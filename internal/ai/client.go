// Package ai talks to an OpenAI-compatible chat completion provider and
// validates the clinical assessments it returns.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrTimeout is returned when the provider does not respond within the
// configured deadline.
var ErrTimeout = errors.New("ai provider timed out")

// ProviderError is a non-retryable error response from the provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai provider returned %d: %s", e.StatusCode, e.Message)
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	System string
	User   string
}

// Usage reports provider token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the provider's reply. ProviderRequestID is the
// provider-assigned id for the call, kept for traceability.
type CompletionResponse struct {
	Content           string
	Model             string
	ProviderRequestID string
	Usage             Usage
}

// Client produces chat completions.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Config holds provider connection and retry settings. MaxRetries is the
// number of retries after the first attempt, so a call makes at most
// MaxRetries+1 attempts.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPClient is the production Client backed by an OpenAI-compatible
// chat completions endpoint. Transient failures (5xx, 429, connection
// errors, per-call timeouts) are retried with exponential backoff; other
// 4xx responses fail immediately.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewHTTPClient(cfg Config, logger zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	maxAttempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := c.call(ctx, body)
		if err == nil {
			c.logger.Debug().
				Str("provider_request_id", resp.ProviderRequestID).
				Int("attempt", attempt).
				Msg("ai completion succeeded")
			return resp, nil
		}

		if !retryable(err) {
			return nil, err
		}

		c.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("ai provider call failed, retrying")
		lastErr = err
	}

	return nil, lastErr
}

func (c *HTTPClient) call(parent context.Context, body []byte) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// A dead parent context means the caller gave up; only a
		// per-call deadline counts as a provider timeout.
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}

	requestID := resp.Header.Get("X-Request-Id")

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Str("provider_request_id", requestID).
			Int("status", resp.StatusCode).
			Msg("ai provider returned error status")
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: truncate(string(respBody), 512)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "malformed completion response"}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "completion response has no choices"}
	}
	if parsed.ID != "" {
		requestID = parsed.ID
	}

	return &CompletionResponse{
		Content:           parsed.Choices[0].Message.Content,
		Model:             parsed.Model,
		ProviderRequestID: requestID,
		Usage:             parsed.Usage,
	}, nil
}

// transportError marks connection-level failures as retryable.
type transportError struct{ err error }

func (e *transportError) Error() string { return fmt.Sprintf("ai provider unreachable: %v", e.err) }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode >= 500 || pe.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// backoff returns the delay before the given attempt (attempt >= 2),
// doubling from BaseDelay and capped at MaxDelay.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if delay > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return delay
}

func (c *HTTPClient) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
