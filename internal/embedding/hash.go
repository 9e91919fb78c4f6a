package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const defaultHashDimension = 256

// HashProvider produces deterministic feature-hash embeddings with no
// external service. Tokens are hashed into a fixed number of buckets and
// the result is L2-normalized, so identical texts always map to the same
// unit vector and texts sharing tokens land near each other. Good enough
// for tests and for deployments without an embedding service.
type HashProvider struct {
	dimension int
}

func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.embedOne(text)
	}
	return vectors, nil
}

func (p *HashProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?\"'()[]")
		if token == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		bucket := int(sum % uint32(p.dimension))
		// Half the hash space contributes negatively, keeping the
		// vector roughly zero-centered.
		if sum&0x80000000 != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (p *HashProvider) Dimension() int { return p.dimension }
