package embedding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nidhogg/engram/internal/config"
)

// apiBatchSize caps how many texts go into one request. Reindexing after a
// restore pushes whole collections through Embed; chunking keeps request
// bodies bounded.
const apiBatchSize = 64

// APIProvider implements Provider against an OpenAI-compatible
// embeddings API.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client

	dimTracker
}

// NewAPIProvider creates an APIProvider from the embedding configuration.
func NewAPIProvider(cfg config.EmbeddingConfig) *APIProvider {
	return &APIProvider{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: requestTimeout},
		dimTracker: dimTracker{configured: cfg.Dimension},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// Dimensions asks the model to truncate its output, for models that
	// support it. Omitted when no width is configured.
	Dimensions int `json:"dimensions,omitempty"`
}

type apiEmbeddingData struct {
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed returns one vector per text, in input order. Large inputs are sent
// in batches of apiBatchSize.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += apiBatchSize {
		end := min(start+apiBatchSize, len(texts))
		batch := texts[start:end]

		var result apiResponse
		err := postJSON(ctx, p.client, p.endpoint+"/embeddings", p.apiKey,
			apiRequest{Model: p.model, Input: batch, Dimensions: p.configured}, &result)
		if err != nil {
			return nil, err
		}
		if len(result.Data) != len(batch) {
			return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(result.Data), len(batch))
		}
		for _, d := range result.Data {
			vectors = append(vectors, d.Embedding)
		}
	}

	p.note(vectors)
	return vectors, nil
}
