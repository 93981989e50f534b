package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docqa/internal/rag/ragerr"
)

// GoogleModel is an embedding client for the Google GenAI API.
type GoogleModel struct {
	model *genai.EmbeddingModel
}

// NewGoogleModel creates a Google GenAI embedding client for the given
// model name.
func NewGoogleModel(ctx context.Context, apiKey, modelName string) (*GoogleModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GoogleModel{model: client.EmbeddingModel(modelName)}, nil
}

// Embed generates a vector for a single text.
func (m *GoogleModel) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := m.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: genai embed: %v", ragerr.ErrEmbeddingTransient, err)
	}
	return res.Embedding.Values, nil
}

// EmbedBatch generates vectors for a batch of texts using the GenAI batch
// endpoint.
func (m *GoogleModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := m.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := m.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: genai batch embed: %v", ragerr.ErrEmbeddingTransient, err)
	}

	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ragerr.ErrEmbeddingPermanent, len(texts), len(res.Embeddings))
	}

	embeddings := make([][]float32, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		embeddings = append(embeddings, emb.Values)
	}
	return embeddings, nil
}

var _ Embedding = (*GoogleModel)(nil)
