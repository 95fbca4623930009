// Package embed provides the embedding providers: an Ollama HTTP client, an
// OpenAI-compatible client, and a deterministic hash embedder for tests and
// offline use. Wrappers add LRU caching and transient-failure retry.
package embed

import (
	"context"
	"math"
)

// Embedder turns text into dense vectors. Implementations report a fixed
// dimension; the storage layer validates it against the persisted embedding
// metadata record.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier recorded in embedding metadata.
	ModelName() string

	// Available probes whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// normalizeVector rescales v to unit length. Zero vectors come back
// unchanged so empty inputs stay representable.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / magnitude)
	}
	return v
}
