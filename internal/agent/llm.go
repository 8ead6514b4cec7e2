package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/config"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest is a chat completion call.
type CompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	User     string    `json:"user,omitempty"`
}

// Completer runs chat completions. The result is the decoded provider
// response, suitable for NormalizeReply.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (any, error)
}

// HTTPError is a non 2xx answer from the provider.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm provider returned %d: %s", e.Status, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *HTTPError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// LLMClient talks to an OpenAI compatible /chat/completions endpoint.
type LLMClient struct {
	apiKey       string
	apiBase      string
	defaultModel string
	maxRetries   uint64
	client       *http.Client
}

// NewLLMClient creates a client from the agent configuration.
func NewLLMClient(cfg config.AgentConfig) *LLMClient {
	apiBase := cfg.BaseURL
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClient{
		apiKey:       cfg.APIKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: cfg.Model,
		maxRetries:   cfg.MaxRetries,
		client:       &http.Client{Timeout: timeout},
	}
}

// DefaultModel returns the model used when a request does not name one.
func (c *LLMClient) DefaultModel() string { return c.defaultModel }

// Complete posts the request, retrying 429 and 5xx answers with exponential
// backoff. The context deadline bounds all attempts together.
func (c *LLMClient) Complete(ctx context.Context, req CompletionRequest) (any, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 8 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying LLM completion",
			zap.String("model", req.Model),
			zap.Error(err),
			zap.Duration("after", d))
	}

	return backoff.RetryNotifyWithData(func() (any, error) {
		result, err := c.do(ctx, data)
		if err == nil {
			return result, nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.retryable() {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", apperrors.ErrUpstream, err))
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstream, err)
	}, policy, notify)
}

func (c *LLMClient) do(ctx context.Context, data []byte) (any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded, nil
}
