package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel generates answers through the Google GenAI API.
type GoogleModel struct {
	model *genai.GenerativeModel
}

// NewGoogleModel creates a Google GenAI chat client for the given model
// name.
func NewGoogleModel(ctx context.Context, apiKey, modelName string) (*GoogleModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GoogleModel{model: client.GenerativeModel(modelName)}, nil
}

// Generate returns the completion for the prompt.
func (m *GoogleModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := m.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("genai generate returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

var _ LLM = (*GoogleModel)(nil)
