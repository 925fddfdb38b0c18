// Package llm talks to OpenAI-compatible chat completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	rterrors "runthru/internal/errors"
	"runthru/internal/logging"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Headers     map[string]string
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	retry      rterrors.RetryConfig
	logger     logging.Logger
}

func NewClient(cfg Config, logger logging.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("LLMClient")
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		retry:      rterrors.DefaultRetryConfig(),
		logger:     logger,
	}
}

func (c *Client) Model() string { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one system+user exchange and returns the assistant text.
// Transient failures are retried with backoff.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	logger := logging.FromContext(ctx, c.logger)
	return rterrors.RetryWithResult(ctx, c.retry, logger, func(ctx context.Context) (string, error) {
		return c.do(ctx, logger, body)
	})
}

func (c *Client) do(ctx context.Context, logger logging.Logger, body []byte) (string, error) {
	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", rterrors.NewPermanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	logger.Debug("POST %s model=%s", endpoint, c.cfg.Model)
	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", rterrors.NewTransient(fmt.Errorf("read response: %w", err))
	}
	logger.Debug("LLM responded %d in %s", resp.StatusCode, time.Since(started).Round(time.Millisecond))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", mapHTTPError(resp.StatusCode, respBody, resp.Header)
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", rterrors.NewPermanent(fmt.Errorf("decode response: %w", err))
	}
	if decoded.Error != nil {
		return "", rterrors.NewPermanent(fmt.Errorf("llm error (%s): %s", decoded.Error.Type, decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return "", rterrors.NewPermanent(fmt.Errorf("llm returned no choices"))
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

func mapHTTPError(status int, body []byte, headers http.Header) error {
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	err := rterrors.FromHTTPStatus(status, fmt.Errorf("llm request failed: %s", msg))
	if te, ok := err.(*rterrors.TransientError); ok {
		if secs, convErr := strconv.Atoi(strings.TrimSpace(headers.Get("Retry-After"))); convErr == nil {
			te.RetryAfter = secs
		}
	}
	return err
}
