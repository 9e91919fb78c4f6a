package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nidhogg/engram/internal/config"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// NewProvider builds the configured provider. "api" targets an
// OpenAI-compatible endpoint, "local" an Ollama-compatible one, and "hash"
// computes deterministic feature-hash vectors without any service.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "api":
		return NewAPIProvider(cfg), nil
	case "local":
		return NewLocalProvider(cfg), nil
	case "hash":
		return NewHashProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// requestTimeout bounds a single embedding call. Consolidation and restore
// index whole collections through these providers; one hung endpoint must
// not stall the entire pass.
const requestTimeout = 30 * time.Second

// dimTracker resolves the vector width: the width observed on the first
// successful response wins over the configured default, since the vector
// store collection must match what the model actually emits.
type dimTracker struct {
	configured int

	once     sync.Once
	observed int
}

func (d *dimTracker) note(vectors [][]float32) {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return
	}
	d.once.Do(func() { d.observed = len(vectors[0]) })
}

// Dimension returns the observed vector width, or the configured default
// before the first successful call.
func (d *dimTracker) Dimension() int {
	if d.observed > 0 {
		return d.observed
	}
	return d.configured
}

// postJSON sends one JSON request and decodes the JSON response, surfacing
// non-200 bodies in the error.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}
