// Package chunker splits extracted document text into overlapping chunks
// with stable character offsets.
//
// Splitting is pure and deterministic: the same text and configuration always
// produce the same boundaries, so chunk IDs derived from the source document
// and sequence index are stable across re-runs.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kioku/kioku/internal/fileid"
	"github.com/kioku/kioku/internal/models"
)

// Chunker splits text on a target size (in characters) with overlap between
// consecutive chunks. Boundaries prefer paragraph breaks, then sentence ends,
// then whitespace, before falling back to a hard cut.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker with the given chunk size and overlap in characters.
// Overlap is clamped below size so every step makes progress.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// ChunkID returns the deterministic ID for a chunk: the owning document ID,
// a prefix of the document's content hash, and the sequence index. Content
// changes therefore retire old IDs instead of mutating chunks in place.
func ChunkID(docID, contentHash string, seq int) string {
	h := contentHash
	if len(h) > 12 {
		h = h[:12]
	}
	return fmt.Sprintf("%s:%s:%d", docID, h, seq)
}

// Split chunks text for the source document at docPath with the given
// content hash. meta is copied onto every chunk. Embeddings are left unset.
// Returns nil for empty or whitespace-only text.
func (c *Chunker) Split(docPath, contentHash, text string, meta map[string]string) []*models.Chunk {
	docID := fileid.DocID(docPath)
	runes := []rune(text)
	var chunks []*models.Chunk
	start := skipSpace(runes, 0)
	seq := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.cutPoint(runes, start, end)
		}
		content := strings.TrimRightFunc(string(runes[start:end]), unicode.IsSpace)
		if content != "" {
			chunks = append(chunks, &models.Chunk{
				ID:           ChunkID(docID, contentHash, seq),
				DocumentPath: docPath,
				Content:      content,
				Seq:          seq,
				StartOffset:  start,
				EndOffset:    start + len([]rune(content)),
				Metadata:     copyMeta(meta),
			})
			seq++
		}
		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = skipSpace(runes, next)
	}
	return chunks
}

// cutPoint picks the boundary to end a chunk beginning at start, searching
// backwards from limit. Paragraph breaks win, then sentence ends, then any
// whitespace; a boundary is only taken past the midpoint of the window so
// chunks do not degenerate. Otherwise the cut is hard at limit.
func (c *Chunker) cutPoint(runes []rune, start, limit int) int {
	min := start + c.size/2
	if p := lastParagraphBreak(runes, min, limit); p > 0 {
		return p
	}
	if p := lastSentenceEnd(runes, min, limit); p > 0 {
		return p
	}
	for i := limit; i > min; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return limit
}

// lastParagraphBreak returns the position after the last blank-line break in
// (min, limit], or 0 when none exists.
func lastParagraphBreak(runes []rune, min, limit int) int {
	for i := limit; i > min; i-- {
		if runes[i-1] != '\n' {
			continue
		}
		j := i - 2
		for j >= 0 && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\r') {
			j--
		}
		if j >= 0 && runes[j] == '\n' {
			return i
		}
	}
	return 0
}

// lastSentenceEnd returns the position after the last terminal punctuation
// followed by whitespace in (min, limit], or 0 when none exists.
func lastSentenceEnd(runes []rune, min, limit int) int {
	for i := limit; i > min; i-- {
		r := runes[i-1]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i >= len(runes) || unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return 0
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
