package embedding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nidhogg/engram/internal/config"
)

// LocalProvider implements Provider against an Ollama-compatible
// embeddings API. Ollama embeds one prompt per request, so texts go out
// sequentially; the first failure aborts the batch with the text's index
// in the error.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client

	dimTracker
}

// NewLocalProvider creates a LocalProvider from the embedding configuration.
func NewLocalProvider(cfg config.EmbeddingConfig) *LocalProvider {
	return &LocalProvider{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		client:     &http.Client{Timeout: requestTimeout},
		dimTracker: dimTracker{configured: cfg.Dimension},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		var result localResponse
		err := postJSON(ctx, p.client, p.endpoint+"/api/embeddings", "",
			localRequest{Model: p.model, Prompt: text}, &result)
		if err != nil {
			return nil, fmt.Errorf("text %d of %d: %w", i+1, len(texts), err)
		}
		vectors[i] = result.Embedding
	}

	p.note(vectors)
	return vectors, nil
}
