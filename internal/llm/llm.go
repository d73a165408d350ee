// Package llm provides a minimal client for text generation models.
package llm

import "context"

// GenerateOptions configures a generation request.
type GenerateOptions struct {
	// Model overrides the client's default model.
	Model string

	SystemPrompt string

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the response length; 0 means no limit.
	MaxTokens int
}

// LLM generates text from a prompt.
type LLM interface {
	// Generate blocks until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
