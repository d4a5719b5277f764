package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/codeatlas/atlas/internal/apperr"
)

// GeminiProvider generates embeddings through the Gemini API.
type GeminiProvider struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, apiKey, model string, dimensions int) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeEmbedding, "create gemini client", err)
	}
	return &GeminiProvider{client: client, model: model, dimensions: dimensions}, nil
}

// Embed generates one embedding for the text under the given task kind.
func (p *GeminiProvider) Embed(ctx context.Context, text string, task Task) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	result, err := p.client.Models.EmbedContent(ctx, p.model, contents,
		&genai.EmbedContentConfig{TaskType: taskType(task)})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeEmbedding, "gemini embed failed", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, apperr.New(apperr.CodeEmbedding, "no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// taskType maps a task kind to the API's task type string.
func taskType(task Task) string {
	switch task {
	case TaskQuery:
		return "RETRIEVAL_QUERY"
	default:
		return "RETRIEVAL_DOCUMENT"
	}
}

// Dimensions returns the configured output dimension.
func (p *GeminiProvider) Dimensions() int { return p.dimensions }

// Name identifies the provider and model.
func (p *GeminiProvider) Name() string { return fmt.Sprintf("gemini:%s", p.model) }

// Close satisfies Provider; the API client holds nothing to release.
func (p *GeminiProvider) Close() error { return nil }
