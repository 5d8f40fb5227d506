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

// OpenAI generates responses using the OpenAI chat completions API.
type OpenAI struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAI creates a provider backed by the OpenAI API.
func NewOpenAI(apiKey, model string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type openAIChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the conversation as a chat completion request.
func (o *OpenAI) Complete(ctx context.Context, systemPrompt string, history []Message, userMessage string) (string, int, error) {
	msgs := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: userMessage})

	reqBody, err := json.Marshal(openAIChatRequest{Model: o.model, Messages: msgs})
	if err != nil {
		return "", 0, fmt.Errorf("completion: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", 0, fmt.Errorf("completion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	var result openAIChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", 0, fmt.Errorf("%w: unmarshal response: %w", ErrUnavailable, err)
	}
	if result.Error != nil {
		return "", 0, fmt.Errorf("%w: %s: %s", ErrUnavailable, result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", 0, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	return result.Choices[0].Message.Content, result.Usage.CompletionTokens, nil
}
