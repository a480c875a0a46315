// Package gemini implements the ai.Provider contract on top of the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/platform/ai"

	"google.golang.org/genai"
)

// Config for the Gemini provider.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client adapts google.golang.org/genai to the ai.Provider interface.
type Client struct {
	config Config
	client *genai.Client
}

// NewClient creates a Gemini provider client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{config: cfg, client: client}, nil
}

// Complete sends the messages to Gemini. System messages become the system
// instruction; the remaining messages are concatenated into user content.
func (c *Client) Complete(ctx context.Context, messages []ai.Message) (ai.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var systemParts []string
	var userParts []string
	for _, m := range messages {
		if m.Role == ai.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		userParts = append(userParts, m.Content)
	}

	config := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model,
		genai.Text(strings.Join(userParts, "\n\n")), config)
	if err != nil {
		return ai.Completion{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return ai.Completion{}, fmt.Errorf("gemini returned empty response")
	}

	return ai.Completion{
		RawText:   text,
		Model:     c.config.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ ai.Provider = (*Client)(nil)
