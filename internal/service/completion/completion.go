// Package completion generates assistant responses from a system prompt
// and conversation content. The gate validates everything a provider
// returns before it reaches a visitor.
package completion

import (
	"context"
	"errors"
)

// ErrUnavailable signals that the completion backend could not produce a
// response. The turn gate surfaces this as a retryable failure and never
// records a sandbox turn for it.
var ErrUnavailable = errors.New("completion: provider unavailable")

// Message is one prior exchange in the conversation history.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Provider generates a response for a conversation turn.
type Provider interface {
	// Complete returns the generated text and the token count reported by
	// the backend (0 when unknown).
	Complete(ctx context.Context, systemPrompt string, history []Message, userMessage string) (string, int, error)
}

// Static returns a canned response. Used in tests and in deployments that
// exercise the validation pipeline without a model backend.
type Static struct {
	Response string
}

// Complete returns the configured response.
func (s Static) Complete(_ context.Context, _ string, _ []Message, _ string) (string, int, error) {
	if s.Response == "" {
		return "I'd be happy to tell you about our animals!", 0, nil
	}
	return s.Response, 0, nil
}
