package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaModel generates answers through a local or remote Ollama server.
type OllamaModel struct {
	client *ollama.Client
	model  string
}

// NewOllamaModel creates an Ollama chat client. An empty baseURL defaults
// to the local server.
func NewOllamaModel(model, baseURL string) (*OllamaModel, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	hc := &http.Client{Timeout: 300 * time.Second}
	return &OllamaModel{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Generate returns the completion for the prompt, collecting the streamed
// response into one string.
func (m *OllamaModel) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &ollama.GenerateRequest{
		Model:  m.model,
		Prompt: prompt,
		Stream: &stream,
	}

	var sb strings.Builder
	err := m.client.Generate(ctx, req, func(resp ollama.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return sb.String(), nil
}

var _ LLM = (*OllamaModel)(nil)
