package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"docqa/internal/rag/ragerr"
)

// OpenAIModel is an embedding client for the OpenAI API.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel creates an OpenAI embedding client for the given model.
func NewOpenAIModel(apiKey, modelName string) (*OpenAIModel, error) {
	config := openai.DefaultConfig(apiKey)
	client := openai.NewClientWithConfig(config)
	return &OpenAIModel{client: client, model: modelName}, nil
}

// Embed generates a vector for a single text.
func (m *OpenAIModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates vectors for a batch of texts in input order.
func (m *OpenAIModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(m.model),
	}

	resp, err := m.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ragerr.ErrEmbeddingPermanent, len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

// classifyOpenAIError maps API failures onto the retryable/permanent split:
// rate limits, timeouts and server errors are transient, everything else
// (malformed input, auth) is permanent.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ragerr.ErrEmbeddingTransient, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", ragerr.ErrEmbeddingTransient, err)
		}
		return fmt.Errorf("%w: %v", ragerr.ErrEmbeddingPermanent, err)
	}

	// Network-level failures are worth retrying.
	return fmt.Errorf("%w: %v", ragerr.ErrEmbeddingTransient, err)
}

var _ Embedding = (*OpenAIModel)(nil)
