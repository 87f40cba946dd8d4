// Package completion implements an HTTP client for an LM-Studio-style
// /v1/chat/completions endpoint.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseSize = 256 * 1024

// Config configures one completion client.
type Config struct {
	Endpoint     string
	Model        string
	MaxTokens    int
	SystemPrompt string
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client calls a single completion endpoint, at most one retry on 429
// honoring Retry-After up to 60 seconds, paced by a token-bucket limiter.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New builds a client paced at most ratePerSec requests per second
// (burst 1).
func New(cfg Config, ratePerSec float64) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 120 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

// Complete requests a completion for userMsg, optionally prefixed by a
// system prompt, and returns choices[0].message.content verbatim
// (reasoning-envelope stripping is the caller's responsibility).
func (c *Client) Complete(ctx context.Context, systemPrompt, userMsg string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = c.cfg.SystemPrompt
	}

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userMsg})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.7,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("completion: encode request: %w", err)
	}

	content, err := c.doWithRetry(ctx, body)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) doWithRetry(ctx context.Context, body []byte) (string, error) {
	content, status, retryAfter, err := c.do(ctx, body)
	if err == nil {
		return content, nil
	}
	if status != http.StatusTooManyRequests {
		return "", err
	}

	if retryAfter > 60*time.Second {
		retryAfter = 60 * time.Second
	}
	t := time.NewTimer(retryAfter)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	content, _, _, err = c.do(ctx, body)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) do(ctx context.Context, body []byte) (content string, status int, retryAfter time.Duration, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, 0, err
	}

	url := c.cfg.Endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("completion: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("completion: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		ra := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", resp.StatusCode, ra, fmt.Errorf("completion: rate limited")
	}

	limited := io.LimitReader(resp.Body, maxResponseSize+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return "", resp.StatusCode, 0, fmt.Errorf("completion: read response: %w", err)
	}
	if len(raw) > maxResponseSize {
		return "", resp.StatusCode, 0, fmt.Errorf("completion: response too large")
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", resp.StatusCode, 0, fmt.Errorf("completion: bad response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", resp.StatusCode, 0, fmt.Errorf("completion: no content in response")
	}

	return parsed.Choices[0].Message.Content, resp.StatusCode, 0, nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return time.Second
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}
