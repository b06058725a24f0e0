// Package vectorindex provides the persistent vector index and cosine
// similarity search over chunk embeddings.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/store"
	"github.com/kioku/kioku/pkg/utils"
)

// ErrModelMismatch is returned when the on-disk index was built with a
// different embedding model than the one configured. Mixing vectors from two
// models would produce meaningless similarity scores, so it is rejected.
var ErrModelMismatch = errors.New("embedding model mismatch")

const (
	metaKeyModel      = "embedding_model"
	metaKeyDimensions = "embedding_dimensions"
)

// Result is a single similarity search hit.
type Result struct {
	ChunkID      string
	DocumentPath string
	Score        float64
}

// Index stores chunk embeddings durably in SQLite and answers k-nearest
// searches from an in-memory copy. Every mutation commits to disk before the
// in-memory view changes, so an acknowledged write survives a crash. Reads
// run concurrently; writers serialize on the internal lock per call.
type Index struct {
	store   *store.Store
	dims    int
	modelID string

	mu      sync.RWMutex
	vectors map[string][]float32
	docs    map[string]string   // chunk ID -> document path
	byDoc   map[string][]string // document path -> chunk IDs
}

// Open loads the index from st, verifying the recorded embedding model
// matches modelID. A fresh database records the model; an existing one built
// with a different model returns ErrModelMismatch.
func Open(ctx context.Context, st *store.Store, dims int, modelID string) (*Index, error) {
	recorded, ok, err := st.GetMeta(ctx, metaKeyModel)
	if err != nil {
		return nil, fmt.Errorf("read index metadata: %w", err)
	}
	if ok && recorded != modelID {
		return nil, fmt.Errorf("%w: index built with %q, configured %q", ErrModelMismatch, recorded, modelID)
	}
	if !ok {
		if err := st.SetMeta(ctx, metaKeyModel, modelID); err != nil {
			return nil, fmt.Errorf("record embedding model: %w", err)
		}
		if err := st.SetMeta(ctx, metaKeyDimensions, fmt.Sprintf("%d", dims)); err != nil {
			return nil, fmt.Errorf("record embedding dimensions: %w", err)
		}
	}

	ix := &Index{
		store:   st,
		dims:    dims,
		modelID: modelID,
		vectors: make(map[string][]float32),
		docs:    make(map[string]string),
		byDoc:   make(map[string][]string),
	}
	rows, err := st.AllChunkVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	for _, cv := range rows {
		if len(cv.Embedding) != dims {
			return nil, fmt.Errorf("%w: stored vector for %s has dimension %d, want %d",
				ErrModelMismatch, cv.ID, len(cv.Embedding), dims)
		}
		ix.insertLocked(cv.ID, cv.DocumentPath, cv.Embedding)
	}
	return ix, nil
}

// ReplaceDocument atomically retires docPath's old entries and installs the
// given chunks, persisting first. Readers observe either the old or the new
// chunk set, never a partial mix.
func (ix *Index) ReplaceDocument(ctx context.Context, docPath string, chunks []*models.Chunk) error {
	for _, ch := range chunks {
		if len(ch.Embedding) != ix.dims {
			return fmt.Errorf("chunk %s: vector dimension %d, want %d", ch.ID, len(ch.Embedding), ix.dims)
		}
	}
	if err := ix.store.ReplaceChunks(ctx, docPath, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeDocLocked(docPath)
	for _, ch := range chunks {
		ix.insertLocked(ch.ID, docPath, ch.Embedding)
	}
	return nil
}

// DeleteByDocument removes all entries belonging to docPath. No-op when the
// document has no entries.
func (ix *Index) DeleteByDocument(ctx context.Context, docPath string) error {
	if err := ix.store.DeleteChunksByDocument(ctx, docPath); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeDocLocked(docPath)
	return nil
}

// Delete removes entries by chunk ID. Already-absent IDs are ignored.
func (ix *Index) Delete(ctx context.Context, ids []string) error {
	if err := ix.store.DeleteChunks(ctx, ids); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		docPath, ok := ix.docs[id]
		if !ok {
			continue
		}
		delete(ix.vectors, id)
		delete(ix.docs, id)
		kept := ix.byDoc[docPath][:0]
		for _, cid := range ix.byDoc[docPath] {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		if len(kept) == 0 {
			delete(ix.byDoc, docPath)
		} else {
			ix.byDoc[docPath] = kept
		}
	}
	return nil
}

// Search returns up to k entries ranked by cosine similarity to query
// (vectors are unit length, so the inner product is used and clamped to
// [0,1]). Ties are broken by chunk ID ascending for deterministic ordering.
// An empty index yields an empty result.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != ix.dims {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(query), ix.dims)
	}
	if k <= 0 {
		return nil, nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	results := make([]*Result, 0, len(ix.vectors))
	for id, vec := range ix.vectors {
		results = append(results, &Result{
			ChunkID:      id,
			DocumentPath: ix.docs[id],
			Score:        utils.ClampSimilarity(utils.InnerProduct(query, vec)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of entries in the index.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// DocumentCount returns the number of distinct documents with entries.
func (ix *Index) DocumentCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byDoc)
}

// ChunkIDsForDocument returns a copy of docPath's entry IDs.
func (ix *Index) ChunkIDsForDocument(docPath string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.byDoc[docPath]...)
}

// ModelID returns the embedding model the index was built with.
func (ix *Index) ModelID() string { return ix.modelID }

func (ix *Index) insertLocked(id, docPath string, vec []float32) {
	if _, exists := ix.vectors[id]; !exists {
		ix.byDoc[docPath] = append(ix.byDoc[docPath], id)
	}
	ix.vectors[id] = vec
	ix.docs[id] = docPath
}

func (ix *Index) removeDocLocked(docPath string) {
	for _, id := range ix.byDoc[docPath] {
		delete(ix.vectors, id)
		delete(ix.docs, id)
	}
	delete(ix.byDoc, docPath)
}
