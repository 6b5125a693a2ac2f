package llm

import (
	"context"
	"fmt"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// NewFromEnv constructs the backend named by backendType ("openai",
// "ollama", "claude"/"anthropic"). Empty defaults to Ollama, the local-first
// choice.
func NewFromEnv(backendType string) (LLMClient, error) {
	switch backendType {
	case "openai":
		return NewOpenAIClient()
	case "claude", "anthropic":
		return NewAnthropicClient()
	case "ollama", "":
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend type %q", backendType)
	}
}

// Float32Ptr and IntPtr are small helpers for building GenerationParams.
func Float32Ptr(v float32) *float32 { return &v }
func IntPtr(v int) *int             { return &v }
