package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/valtricai/consulting-engine/internal/errors"
	"github.com/valtricai/consulting-engine/plugin/cache"
)

// EmbeddingProvider is the provider call the embedder depends on.
type EmbeddingProvider interface {
	Embedding(ctx context.Context, dimensions int, texts []string) ([][]float32, error)
}

// Embedder generates query embeddings with an in-process LRU cache in
// front of the provider. Safe for concurrent use.
type Embedder struct {
	provider   EmbeddingProvider
	cache      *cache.VectorCache
	model      string
	dimensions int
	maxChars   int
}

// NewEmbedder creates an embedder. The cache is injected so tests and
// callers control its lifetime and partitioning.
func NewEmbedder(provider EmbeddingProvider, c *cache.VectorCache, model string, dimensions, maxChars int) *Embedder {
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &Embedder{
		provider:   provider,
		cache:      c,
		model:      model,
		dimensions: dimensions,
		maxChars:   maxChars,
	}
}

// Dimensions returns the vector dimensionality this embedder produces.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Embed returns the embedding vector for text, consulting the cache first.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized, err := e.prepare(text)
	if err != nil {
		return nil, err
	}

	key := e.cacheKey(normalized)
	if vec, ok := e.cache.Get(key); ok {
		slog.Debug("embedding cache hit", "chars", len(normalized))
		return vec, nil
	}

	vectors, err := e.provider.Embedding(ctx, e.dimensions, []string{normalized})
	if err != nil {
		return nil, err
	}
	vec := vectors[0]
	if len(vec) != e.dimensions {
		return nil, errors.Provider("embedding dimensionality mismatch", nil)
	}

	e.cache.Set(key, vec)
	return vec, nil
}

// EmbedBatch embeds several texts in one provider call. Cached texts are
// served locally; only misses are sent to the provider.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.Validation("no texts provided for embedding")
	}

	normalized := make([]string, len(texts))
	for i, text := range texts {
		n, err := e.prepare(text)
		if err != nil {
			return nil, err
		}
		normalized[i] = n
	}

	out := make([][]float32, len(normalized))
	var missTexts []string
	var missIdx []int
	for i, n := range normalized {
		if vec, ok := e.cache.Get(e.cacheKey(n)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, n)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vectors, err := e.provider.Embedding(ctx, e.dimensions, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			if len(vec) != e.dimensions {
				return nil, errors.Provider("embedding dimensionality mismatch", nil)
			}
			i := missIdx[j]
			out[i] = vec
			e.cache.Set(e.cacheKey(normalized[i]), vec)
		}
	}

	return out, nil
}

// prepare normalizes whitespace and validates length bounds.
func (e *Embedder) prepare(text string) (string, error) {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return "", errors.Validation("text is empty")
	}
	if len(normalized) > e.maxChars {
		return "", errors.Validationf("text exceeds %d characters", e.maxChars)
	}
	return normalized, nil
}

// cacheKey derives the cache key from (model, exact text).
func (e *Embedder) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(e.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
