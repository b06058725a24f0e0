package models

import "time"

// IngestionStatus is the pipeline's position in its per-pass state machine.
type IngestionStatus string

const (
	StatusIdle       IngestionStatus = "idle"
	StatusScanning   IngestionStatus = "scanning"
	StatusExtracting IngestionStatus = "extracting"
	StatusChunking   IngestionStatus = "chunking"
	StatusEmbedding  IngestionStatus = "embedding"
	StatusIndexing   IngestionStatus = "indexing"
	StatusFailed     IngestionStatus = "failed"
)

// IngestionState is the single-owner record of an ingestion pass. It is reset
// at pass start, mutated only by the pipeline, and read by status reporters
// via snapshot copies.
type IngestionState struct {
	Status      IngestionStatus `json:"status"`
	Total       int             `json:"total"`
	Processed   int             `json:"processed"`
	Failed      int             `json:"failed"`
	Removed     int             `json:"removed"`
	CurrentPath string          `json:"current_path,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}

// Running reports whether a pass is currently in progress.
func (s *IngestionState) Running() bool {
	switch s.Status {
	case StatusScanning, StatusExtracting, StatusChunking, StatusEmbedding, StatusIndexing:
		return true
	}
	return false
}
