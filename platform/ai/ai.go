// Package ai defines the chat-completion provider contract used by the
// autopilot planner. Concrete providers live in subpackages.
// This is part of the platform layer and contains no business logic.
package ai

import (
	"context"
	"errors"
)

// Message roles understood by all providers.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the raw result of a chat-completion call.
type Completion struct {
	RawText   string
	Model     string
	LatencyMs int64
}

// Provider is a chat-completion backend. Implementations must bound the call
// with their configured timeout; callers treat any error as a provider failure.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

// ErrDisabled is returned by the provider used when no backend is configured.
var ErrDisabled = errors.New("ai provider disabled")

type disabledProvider struct{}

func (disabledProvider) Complete(context.Context, []Message) (Completion, error) {
	return Completion{}, ErrDisabled
}

// Disabled returns a provider that fails every call, pushing the planner to
// its deterministic fallback.
func Disabled() Provider {
	return disabledProvider{}
}
