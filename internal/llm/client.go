// Package llm provides the text-completion collaborator interface and its
// provider implementations. The clarification engine treats the collaborator
// as an opaque prompt-in, text-out service.
package llm

import (
	"context"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// CompleteText is the collaborator contract used by the analyzer and
// builder: a single prompt at a given temperature, returning raw text.
func CompleteText(ctx context.Context, c Client, prompt string, temperature float64) (string, error) {
	resp, err := c.Complete(ctx, &CompletionRequest{
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   1000,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
