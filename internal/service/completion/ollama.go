package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama generates responses using a local Ollama server's chat API.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates a provider that calls Ollama's /api/chat endpoint.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message   Message `json:"message"`
	EvalCount int     `json:"eval_count"`
}

// Complete sends the system prompt, history, and user message as a single
// chat request. Any transport or backend failure maps to ErrUnavailable.
func (o *Ollama) Complete(ctx context.Context, systemPrompt string, history []Message, userMessage string) (string, int, error) {
	msgs := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: userMessage})

	reqBody, err := json.Marshal(ollamaChatRequest{Model: o.model, Messages: msgs, Stream: false})
	if err != nil {
		return "", 0, fmt.Errorf("completion: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", 0, fmt.Errorf("completion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", 0, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if result.Message.Content == "" {
		return "", 0, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	return result.Message.Content, result.EvalCount, nil
}
