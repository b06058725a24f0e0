// Package store provides SQLite persistence for tracked documents, chunks,
// and index metadata.
//
// All mutations commit before the call returns, so the on-disk state always
// reflects every acknowledged write. WAL mode keeps reads lock-free while a
// single writer commits.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kioku/kioku/internal/models"
)

// Store wraps the SQLite database holding all durable engine state.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime_nano INTEGER NOT NULL,
		file_type TEXT NOT NULL DEFAULT '',
		ingested_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_path TEXT NOT NULL,
		content TEXT NOT NULL,
		seq INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		metadata TEXT,
		embedding BLOB NOT NULL,
		created_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_path ON chunks(document_path);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_seq ON chunks(document_path, seq);

	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertDocument inserts or replaces the fingerprint row for doc.
func (s *Store) UpsertDocument(ctx context.Context, doc *models.SourceDocument) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (path, hash, size, mtime_nano, file_type, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   hash = excluded.hash,
		   size = excluded.size,
		   mtime_nano = excluded.mtime_nano,
		   file_type = excluded.file_type,
		   ingested_at = excluded.ingested_at`,
		doc.Path, doc.Fingerprint.Hash, doc.Fingerprint.Size, doc.Fingerprint.MTimeNano,
		doc.FileType, doc.IngestedAt,
	)
	return err
}

// DeleteDocument removes the fingerprint row for path. No-op when absent.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	return err
}

// Fingerprints returns the full fingerprint table keyed by path.
func (s *Store) Fingerprints(ctx context.Context) (map[string]models.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, hash, size, mtime_nano FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]models.Fingerprint)
	for rows.Next() {
		var path string
		var fp models.Fingerprint
		if err := rows.Scan(&path, &fp.Hash, &fp.Size, &fp.MTimeNano); err != nil {
			return nil, err
		}
		out[path] = fp
	}
	return out, rows.Err()
}

// ReplaceChunks atomically removes all chunk rows for docPath and inserts the
// given chunks, in one transaction. Idempotent for identical chunk sets.
func (s *Store) ReplaceChunks(ctx context.Context, docPath string, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_path = ?`, docPath); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	now := time.Now()
	for _, ch := range chunks {
		metadataJSON, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks
			 (id, document_path, content, seq, start_offset, end_offset, metadata, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ch.ID, ch.DocumentPath, ch.Content, ch.Seq, ch.StartOffset, ch.EndOffset,
			string(metadataJSON), vectorToBytes(ch.Embedding), ch.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteChunksByDocument removes all chunk rows for docPath.
func (s *Store) DeleteChunksByDocument(ctx context.Context, docPath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_path = ?`, docPath)
	return err
}

// DeleteChunks removes chunk rows by ID. No-op for absent IDs.
func (s *Store) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunk returns one chunk by ID, embedding included.
func (s *Store) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_path, content, seq, start_offset, end_offset, metadata, embedding, created_at
		 FROM chunks WHERE id = ?`, id)
	ch, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk not found: %s", id)
	}
	return ch, err
}

// ChunkVector is a chunk's identity and embedding, used to rebuild the
// in-memory search structure on startup.
type ChunkVector struct {
	ID           string
	DocumentPath string
	Embedding    []float32
}

// AllChunkVectors returns every chunk's ID, owning document, and embedding.
func (s *Store) AllChunkVectors(ctx context.Context) ([]ChunkVector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_path, embedding FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkVector
	for rows.Next() {
		var cv ChunkVector
		var blob []byte
		if err := rows.Scan(&cv.ID, &cv.DocumentPath, &blob); err != nil {
			return nil, err
		}
		cv.Embedding = bytesToVector(blob)
		out = append(out, cv)
	}
	return out, rows.Err()
}

// CountDocuments returns the number of tracked source documents.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// CountChunks returns the number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// FileTypeCounts returns tracked document counts grouped by file type.
func (s *Store) FileTypeCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_type, COUNT(*) FROM documents GROUP BY file_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var ft string
		var n int64
		if err := rows.Scan(&ft, &n); err != nil {
			return nil, err
		}
		out[ft] = n
	}
	return out, rows.Err()
}

// GetMeta returns the metadata value for key, with ok=false when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta inserts or replaces the metadata value for key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var ch models.Chunk
	var metadataJSON string
	var blob []byte
	err := row.Scan(&ch.ID, &ch.DocumentPath, &ch.Content, &ch.Seq,
		&ch.StartOffset, &ch.EndOffset, &metadataJSON, &blob, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &ch.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
		}
	}
	ch.Embedding = bytesToVector(blob)
	return &ch, nil
}

// vectorToBytes encodes a vector as little-endian float32 bytes.
func vectorToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(f))
	}
	return out
}

// bytesToVector decodes little-endian float32 bytes into a vector.
func bytesToVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
