package embedding

import "context"

// Embedding is the contract every embedding provider implements. Providers
// classify their failures with the ragerr kinds so the coordinator can
// decide what to retry.
type Embedding interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for a batch of texts, one per input, in
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelType enumerates the supported providers.
type ModelType string

const (
	OpenAI ModelType = "openai"
	Google ModelType = "google"
	Ollama ModelType = "ollama"
)
