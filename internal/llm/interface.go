// Package llm provides answer generation behind one provider-agnostic
// interface. Providers mirror the embedding package: the same three
// backends, selected by configuration.
package llm

import "context"

// LLM generates a completion for a fully built prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelType enumerates the supported providers.
type ModelType string

const (
	OpenAI ModelType = "openai"
	Google ModelType = "google"
	Ollama ModelType = "ollama"
)
