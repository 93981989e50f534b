package embedding

import (
	"context"
	"fmt"

	"docqa/internal/config"
)

// NewFromConfig builds the provider selected in the configuration.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig) (Embedding, error) {
	switch ModelType(cfg.Provider) {
	case OpenAI:
		return NewOpenAIModel(cfg.APIKey, cfg.Model)
	case Google:
		return NewGoogleModel(ctx, cfg.APIKey, cfg.Model)
	case Ollama:
		return NewOllamaModel(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
