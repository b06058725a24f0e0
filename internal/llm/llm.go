// Package llm provides text generation clients for answering questions from
// assembled context.
package llm

import "context"

// Client generates a completion for a prompt.
type Client interface {
	// Complete returns the model's full response for prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// ModelID identifies the backing model, e.g. "ollama/mistral:latest".
	ModelID() string
}
