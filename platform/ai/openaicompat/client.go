// Package openaicompat implements the ai.Provider contract against any
// OpenAI-compatible chat-completions endpoint.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/platform/ai"
)

// Config for an OpenAI-compatible provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls a chat-completions endpoint over raw HTTP.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a provider client with sensible defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
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
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the messages to the chat-completions endpoint and returns the
// raw text of the first choice.
func (c *Client) Complete(ctx context.Context, messages []ai.Message) (ai.Completion, error) {
	payload := chatRequest{
		Model:       c.config.Model,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: 0.2,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ai.Completion{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return ai.Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return ai.Completion{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.Completion{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return ai.Completion{}, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ai.Completion{}, fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return ai.Completion{}, fmt.Errorf("chat endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return ai.Completion{}, fmt.Errorf("chat endpoint returned no choices")
	}

	model := parsed.Model
	if model == "" {
		model = c.config.Model
	}

	return ai.Completion{
		RawText:   parsed.Choices[0].Message.Content,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ ai.Provider = (*Client)(nil)
