// Package embedding provides text embedding via the Ollama API, with caching.
package embedding

import (
	"context"
	"hash/fnv"
)

// Embedder produces vector embeddings for text. Documents and queries go
// through the identical transformation so both live in the same metric
// space; batch output order matches input order exactly.
type Embedder interface {
	// EmbedBatch embeds texts in order. len(result) == len(texts) on success.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the fixed output vector length.
	Dimensions() int
	// ModelID identifies the embedding model. It is recorded alongside the
	// index so vectors from different models are never mixed silently.
	ModelID() string
}

// HashString returns a stable FNV-1a hash of s. Used by the deterministic
// mock embedder.
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
