// Package evolution is a minimal client for the Evolution WhatsApp gateway.
package evolution

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
	"github.com/kailera/acertaia-api/pkg/logger"
)

// Sender delivers text messages through a WhatsApp instance.
type Sender interface {
	SendText(ctx context.Context, instance, to, text string) (*SendResult, error)
}

// SendResult is the gateway answer to a send.
type SendResult struct {
	MessageID string         `json:"messageId,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// StatusError is a non 2xx answer from the gateway.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evolution sendText failed: %d %s", e.Status, e.Body)
}

// Client calls the Evolution REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
}

// NewClient creates a client. An empty baseURL or apiKey makes every send fail.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 2,
	}
}

// Number reduces a JID or formatted phone to the digits the gateway expects.
func Number(toOrJID string) string {
	if i := strings.Index(toOrJID, "@"); i >= 0 {
		toOrJID = toOrJID[:i]
	}
	var b strings.Builder
	for _, r := range toOrJID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SendText posts a text message. Only 429 and 503 answers are retried since
// any other failure may already have delivered the message.
func (c *Client) SendText(ctx context.Context, instance, to, text string) (*SendResult, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, fmt.Errorf("%w: evolution url or api key not configured", apperrors.ErrUpstream)
	}
	number := Number(to)
	if number == "" {
		return nil, fmt.Errorf("%w: invalid destination %q", apperrors.ErrBadRequest, to)
	}

	payload, err := json.Marshal(map[string]string{
		"instanceName": instance,
		"number":       number,
		"text":         text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 300 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying evolution send",
			zap.String("instance", instance), zap.Error(err), zap.Duration("after", d))
	}

	return backoff.RetryNotifyWithData(func() (*SendResult, error) {
		res, err := c.post(ctx, payload)
		if err == nil {
			return res, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.Status == http.StatusTooManyRequests || statusErr.Status == http.StatusServiceUnavailable) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstream, err)
		}
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", apperrors.ErrUpstream, err))
	}, policy, notify)
}

func (c *Client) post(ctx context.Context, payload []byte) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message/sendText", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	raw := map[string]any{}
	_ = json.Unmarshal(body, &raw)
	return &SendResult{MessageID: messageIDOf(raw), Raw: raw}, nil
}

// messageIDOf reads key.id or messageId from the gateway answer.
func messageIDOf(raw map[string]any) string {
	if key, ok := raw["key"].(map[string]any); ok {
		if id, ok := key["id"].(string); ok && id != "" {
			return id
		}
	}
	id, _ := raw["messageId"].(string)
	return id
}
