// Package retriever performs similarity retrieval: it embeds a query and
// returns the most relevant chunks with their full content and metadata.
package retriever

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kioku/kioku/internal/embedding"
	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/store"
	"github.com/kioku/kioku/internal/vectorindex"
)

// Retriever embeds queries and ranks stored chunks against them.
type Retriever struct {
	embedder      embedding.Embedder
	index         *vectorindex.Index
	store         *store.Store
	topK          int
	minSimilarity float64
	logger        *zap.Logger
}

// New creates a retriever. topK is the default result count; minSimilarity
// filters out hits scoring below it (0 disables the filter).
func New(embedder embedding.Embedder, index *vectorindex.Index, st *store.Store, topK int, minSimilarity float64, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:      embedder,
		index:         index,
		store:         st,
		topK:          topK,
		minSimilarity: minSimilarity,
		logger:        logger,
	}
}

// Retrieve returns up to k chunks ranked by similarity to query. k <= 0 uses
// the configured default. An empty index yields an empty result, not an
// error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (*models.RetrievalResult, error) {
	if k <= 0 {
		k = r.topK
	}
	result := &models.RetrievalResult{Query: query}
	if r.index.Size() == 0 {
		return result, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	for _, hit := range hits {
		if r.minSimilarity > 0 && hit.Score < r.minSimilarity {
			continue
		}
		ch, err := r.store.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			// An entry can disappear between the search and the read when a
			// concurrent pass retires it; skip rather than fail the query.
			r.logger.Debug("hit vanished during retrieval", zap.String("chunk_id", hit.ChunkID), zap.Error(err))
			continue
		}
		result.Chunks = append(result.Chunks, &models.ScoredChunk{Chunk: ch, Similarity: hit.Score})
	}
	r.logger.Debug("retrieval complete",
		zap.String("query", query),
		zap.Int("hits", len(result.Chunks)),
	)
	return result, nil
}
