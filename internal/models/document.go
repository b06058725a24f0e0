// Package models defines core data structures for documents, chunks, and answers.
package models

import "time"

// Fingerprint identifies a file's content state. Two files with equal
// fingerprints are treated as unchanged; the content hash guards against
// mtime-only comparisons missing edits that preserve timestamps.
type Fingerprint struct {
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
	MTimeNano int64  `json:"mtime_nano"`
}

// Equal reports whether two fingerprints match in hash, size, and mtime.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Hash == other.Hash && f.Size == other.Size && f.MTimeNano == other.MTimeNano
}

// SourceDocument is a tracked source file. Identity is the absolute path.
type SourceDocument struct {
	Path        string      `json:"path"`
	Fingerprint Fingerprint `json:"fingerprint"`
	FileType    string      `json:"file_type"`
	IngestedAt  time.Time   `json:"ingested_at"`
}

// Chunk is a bounded span of text extracted from one source document, the
// atomic unit indexed and retrieved. Chunks are immutable: a content change
// in the source produces new chunk IDs and retires the old ones.
type Chunk struct {
	ID           string            `json:"id"`
	DocumentPath string            `json:"document_path"`
	Content      string            `json:"content"`
	Seq          int               `json:"seq"`
	StartOffset  int               `json:"start_offset"`
	EndOffset    int               `json:"end_offset"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Embedding    []float32         `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Filename returns the chunk's source filename from metadata, falling back
// to the document path.
func (c *Chunk) Filename() string {
	if name, ok := c.Metadata[MetaFilename]; ok && name != "" {
		return name
	}
	return c.DocumentPath
}

// Metadata keys attached to chunks at ingestion time.
const (
	MetaFilename   = "filename"
	MetaFileType   = "file_type"
	MetaIngestedAt = "ingested_at"
	MetaTitle      = "title"
	MetaSourcePath = "source_path"
)
