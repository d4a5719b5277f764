package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeatlas/atlas/internal/apperr"
)

// LocalProvider generates embeddings through an Ollama-compatible HTTP
// endpoint. The task kind is ignored; local models embed symmetrically.
type LocalProvider struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
}

// NewLocalProvider creates a provider for a local embedding server.
func NewLocalProvider(baseURL, model string, dimensions int, timeout time.Duration) *LocalProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LocalProvider{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
	}
}

type localEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates one embedding for the text.
func (p *LocalProvider) Embed(ctx context.Context, text string, _ Task) ([]float32, error) {
	body, err := json.Marshal(localEmbedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeEmbedding, "marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeEmbedding, "create embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeEmbedding, "local embed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apperr.Newf(apperr.CodeEmbedding,
			"local embedder returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.Wrap(apperr.CodeEmbedding, "decode embed response", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, apperr.New(apperr.CodeEmbedding, "no embeddings returned")
	}
	return result.Embeddings[0], nil
}

// Dimensions returns the configured output dimension.
func (p *LocalProvider) Dimensions() int { return p.dimensions }

// Name identifies the provider and model.
func (p *LocalProvider) Name() string { return fmt.Sprintf("local:%s", p.model) }

// Close is a no-op for the HTTP-based provider.
func (p *LocalProvider) Close() error { return nil }
