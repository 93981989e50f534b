package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"

	"docqa/internal/rag/ragerr"
)

// OllamaModel is an embedding client for a local or remote Ollama server.
type OllamaModel struct {
	client *ollama.Client
	model  string
}

// NewOllamaModel creates an Ollama embedding client. An empty baseURL
// defaults to the local server.
func NewOllamaModel(model, baseURL string) (*OllamaModel, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	hc := &http.Client{Timeout: 120 * time.Second}
	return &OllamaModel{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Embed generates a vector for a single text.
func (m *OllamaModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates vectors for a batch of texts using Ollama's batch
// embedding endpoint. Failures against a local server are connection-level
// and treated as transient.
func (m *OllamaModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.Embed(ctx, &ollama.EmbedRequest{
		Model: m.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %v", ragerr.ErrEmbeddingTransient, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ragerr.ErrEmbeddingPermanent, len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

var _ Embedding = (*OllamaModel)(nil)
