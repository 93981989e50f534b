package llm

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIModel generates answers through the OpenAI chat completion API.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel creates an OpenAI chat client for the given model.
func NewOpenAIModel(apiKey, modelName string) (*OpenAIModel, error) {
	config := openai.DefaultConfig(apiKey)
	client := openai.NewClientWithConfig(config)
	return &OpenAIModel{client: client, model: modelName}, nil
}

// Generate returns the completion for the prompt.
func (m *OpenAIModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ LLM = (*OpenAIModel)(nil)
