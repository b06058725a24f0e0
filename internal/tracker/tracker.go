// Package tracker maintains the fingerprint table of tracked source files
// and classifies filesystem changes between ingestion passes.
package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/store"
)

// ScanResult partitions the files under a root into change classes relative
// to the persisted fingerprint table. Fingerprints carries the fresh
// fingerprint for every added or modified path so callers do not re-hash.
type ScanResult struct {
	Added        []string
	Modified     []string
	Removed      []string
	Unchanged    int
	Fingerprints map[string]models.Fingerprint
}

// Tracker compares directory walks against the persisted fingerprint table.
type Tracker struct {
	store      *store.Store
	extensions []string
	recursive  bool
}

// New creates a tracker. extensions filters which files are considered
// (leading dot, case-insensitive; empty = all); recursive controls whether
// subdirectories are walked.
func New(st *store.Store, extensions []string, recursive bool) *Tracker {
	return &Tracker{store: st, extensions: extensions, recursive: recursive}
}

// Fingerprint computes the change-detection fingerprint for the file at
// path: content hash plus size and mtime. Content is hashed so edits that
// preserve size and timestamp are still detected.
func Fingerprint(path string) (models.Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Fingerprint{}, fmt.Errorf("stat file: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return models.Fingerprint{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return models.Fingerprint{}, fmt.Errorf("hash file: %w", err)
	}
	return models.Fingerprint{
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Size:      info.Size(),
		MTimeNano: info.ModTime().UnixNano(),
	}, nil
}

// Scan walks root and partitions files into added, modified, and removed
// relative to the stored fingerprints. In full mode existing fingerprints
// are ignored and every file is classified as added. Removed covers stored
// paths under root that the walk no longer finds. Paths in the result are
// absolute and sorted for deterministic processing order.
func (t *Tracker) Scan(ctx context.Context, root string, full bool) (*ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absRoot)
	}

	known, err := t.store.Fingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}

	result := &ScanResult{Fingerprints: make(map[string]models.Fingerprint)}
	seen := make(map[string]bool)
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !t.recursive && path != absRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if !t.matchExtension(path) {
			return nil
		}
		finfo, err := os.Stat(path)
		if err != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		fp, err := Fingerprint(path)
		if err != nil {
			// Unreadable file: skip now, retried on the next pass.
			return nil
		}
		seen[path] = true
		result.Fingerprints[path] = fp
		stored, tracked := known[path]
		switch {
		case full || !tracked:
			result.Added = append(result.Added, path)
		case !stored.Equal(fp):
			result.Modified = append(result.Modified, path)
		default:
			result.Unchanged++
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, walkErr)
	}

	for path := range known {
		if !seen[path] && underDir(absRoot, path) {
			result.Removed = append(result.Removed, path)
		}
	}
	sort.Strings(result.Added)
	sort.Strings(result.Modified)
	sort.Strings(result.Removed)
	return result, nil
}

// TrackedPaths returns every path in the fingerprint table.
func (t *Tracker) TrackedPaths(ctx context.Context) ([]string, error) {
	known, err := t.store.Fingerprints(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(known))
	for path := range known {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Commit persists the fingerprint for a fully-ingested document.
func (t *Tracker) Commit(ctx context.Context, doc *models.SourceDocument) error {
	return t.store.UpsertDocument(ctx, doc)
}

// Forget drops the fingerprint row for path.
func (t *Tracker) Forget(ctx context.Context, path string) error {
	return t.store.DeleteDocument(ctx, path)
}

func (t *Tracker) matchExtension(path string) bool {
	if len(t.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range t.extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func underDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
