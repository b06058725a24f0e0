package models

// ScoredChunk pairs a retrieved chunk with its similarity to the query.
// Similarity is the inner product of unit vectors clamped to [0,1]; the same
// value flows through the index, the retriever, and API responses.
type ScoredChunk struct {
	Chunk      *Chunk  `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// RetrievalResult is the ranked outcome of one retrieval call. It is
// ephemeral: produced per query and never persisted.
type RetrievalResult struct {
	Query  string         `json:"query"`
	Chunks []*ScoredChunk `json:"chunks"`
}

// Source is a cited provenance entry in an answer: the originating filename
// and the best similarity among that file's chunks included in the prompt.
type Source struct {
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
}

// Answer is a structured response to a question: the generated text plus the
// deduplicated sources actually used to ground it. Sources may be present
// even when generation failed, since retrieval is useful on its own.
type Answer struct {
	Text           string   `json:"text"`
	Sources        []Source `json:"sources"`
	ConversationID string   `json:"conversation_id,omitempty"`
}
