// Package ingest orchestrates the document ingestion pipeline: scanning,
// extraction, chunking, embedding, and vector index updates.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kioku/kioku/internal/chunker"
	"github.com/kioku/kioku/internal/embedding"
	"github.com/kioku/kioku/internal/extract"
	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/tracker"
	"github.com/kioku/kioku/internal/vectorindex"
	"github.com/kioku/kioku/internal/watcher"
)

// ErrPassInProgress is returned by Run when another ingestion pass holds the
// writer lock.
var ErrPassInProgress = errors.New("ingestion pass already running")

const defaultSettle = 500 * time.Millisecond

// Options controls one ingestion pass.
type Options struct {
	// Root overrides the configured document root when non-empty.
	Root string
	// Full ignores stored fingerprints and re-ingests every file.
	Full bool
}

// Pipeline runs ingestion passes. A single pass holds exclusive write access
// to the tracker and vector index; the lock covers the whole pass so a
// modified document's delete-and-reinsert is never interleaved with another
// writer. Reads against the index proceed concurrently throughout.
type Pipeline struct {
	tracker   *tracker.Tracker
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	index     *vectorindex.Index
	root      string
	batchSize int
	settle    time.Duration
	logger    *zap.Logger

	passMu  sync.Mutex
	stateMu sync.Mutex
	state   models.IngestionState
}

// New creates a pipeline rooted at root. batchSize bounds how many chunk
// texts are embedded per request.
func New(
	trk *tracker.Tracker,
	extractor *extract.Extractor,
	ck *chunker.Chunker,
	embedder embedding.Embedder,
	index *vectorindex.Index,
	root string,
	batchSize int,
	logger *zap.Logger,
) *Pipeline {
	if batchSize <= 0 {
		batchSize = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		tracker:   trk,
		extractor: extractor,
		chunker:   ck,
		embedder:  embedder,
		index:     index,
		root:      root,
		batchSize: batchSize,
		settle:    defaultSettle,
		logger:    logger,
	}
}

// State returns a snapshot of the current ingestion state.
func (p *Pipeline) State() models.IngestionState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// Run executes one ingestion pass. It returns ErrPassInProgress when another
// pass is running rather than queueing behind it.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	if !p.passMu.TryLock() {
		return ErrPassInProgress
	}
	defer p.passMu.Unlock()
	return p.runLocked(ctx, opts)
}

// runBlocking waits for the writer lock instead of failing, serializing
// watch-triggered passes behind any manual pass.
func (p *Pipeline) runBlocking(ctx context.Context, opts Options) error {
	p.passMu.Lock()
	defer p.passMu.Unlock()
	return p.runLocked(ctx, opts)
}

func (p *Pipeline) runLocked(ctx context.Context, opts Options) error {
	root := opts.Root
	if root == "" {
		root = p.root
	}
	started := time.Now()
	p.setState(models.IngestionState{Status: models.StatusScanning, StartedAt: started})

	scan, err := p.tracker.Scan(ctx, root, opts.Full)
	if err != nil {
		if ctx.Err() != nil {
			return p.abort(ctx.Err())
		}
		p.failState(err)
		return err
	}
	p.mutateState(func(s *models.IngestionState) {
		s.Total = len(scan.Added) + len(scan.Modified) + len(scan.Removed)
	})
	p.logger.Info("ingestion pass started",
		zap.String("root", root),
		zap.Bool("full", opts.Full),
		zap.Int("added", len(scan.Added)),
		zap.Int("modified", len(scan.Modified)),
		zap.Int("removed", len(scan.Removed)),
		zap.Int("unchanged", scan.Unchanged),
	)

	for _, path := range scan.Removed {
		if err := ctx.Err(); err != nil {
			return p.abort(err)
		}
		if err := p.index.DeleteByDocument(ctx, path); err != nil {
			p.failState(err)
			return fmt.Errorf("remove document %s: %w", path, err)
		}
		if err := p.tracker.Forget(ctx, path); err != nil {
			p.failState(err)
			return fmt.Errorf("untrack document %s: %w", path, err)
		}
		p.mutateState(func(s *models.IngestionState) { s.Removed++ })
		p.logger.Debug("document removed", zap.String("path", path))
	}

	// Modified documents are re-ingested the same way as added ones; the
	// index swap retires the old chunk set atomically.
	for _, path := range append(append([]string{}, scan.Modified...), scan.Added...) {
		if err := ctx.Err(); err != nil {
			return p.abort(err)
		}
		fp := scan.Fingerprints[path]
		if err, fatal := p.processDocument(ctx, path, fp); err != nil {
			if fatal {
				p.failState(err)
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			// Recoverable per-document failure: drop the fingerprint so the
			// next pass retries, and keep going.
			p.logger.Warn("document skipped", zap.String("path", path), zap.Error(err))
			if forgetErr := p.tracker.Forget(ctx, path); forgetErr != nil {
				p.failState(forgetErr)
				return fmt.Errorf("untrack failed document %s: %w", path, forgetErr)
			}
			p.mutateState(func(s *models.IngestionState) {
				s.Failed++
				s.LastError = fmt.Sprintf("%s: %v", path, err)
			})
			continue
		}
		p.mutateState(func(s *models.IngestionState) { s.Processed++ })
	}

	p.mutateState(func(s *models.IngestionState) {
		s.Status = models.StatusIdle
		s.CurrentPath = ""
		s.FinishedAt = time.Now()
	})
	final := p.State()
	p.logger.Info("ingestion pass finished",
		zap.Int("processed", final.Processed),
		zap.Int("failed", final.Failed),
		zap.Int("removed", final.Removed),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// processDocument extracts, chunks, embeds, and indexes one file, then
// commits its fingerprint. The fatal return distinguishes index/tracker
// write failures (which abort the pass) from per-document extraction and
// embedding failures (which skip the document).
func (p *Pipeline) processDocument(ctx context.Context, path string, fp models.Fingerprint) (err error, fatal bool) {
	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	p.setStage(models.StatusExtracting, path)
	text, err := p.extractor.Extract(path)
	if err != nil {
		return fmt.Errorf("extract: %w", err), false
	}

	p.setStage(models.StatusChunking, path)
	meta := map[string]string{
		models.MetaFilename:   filepath.Base(path),
		models.MetaFileType:   fileType,
		models.MetaSourcePath: path,
		models.MetaIngestedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if title := markdownTitle(text, fileType); title != "" {
		meta[models.MetaTitle] = title
	}
	chunks := p.chunker.Split(path, fp.Hash, text, meta)

	p.setStage(models.StatusEmbedding, path)
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}
		embs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err), false
		}
		for i := range batch {
			batch[i].Embedding = embs[i]
		}
	}

	p.setStage(models.StatusIndexing, path)
	if err := p.index.ReplaceDocument(ctx, path, chunks); err != nil {
		return err, true
	}
	doc := &models.SourceDocument{
		Path:        path,
		Fingerprint: fp,
		FileType:    fileType,
		IngestedAt:  time.Now(),
	}
	if err := p.tracker.Commit(ctx, doc); err != nil {
		return fmt.Errorf("commit fingerprint: %w", err), true
	}
	p.logger.Debug("document ingested", zap.String("path", path), zap.Int("chunks", len(chunks)))
	return nil, false
}

// Watch consumes change events and runs incremental passes. A burst of
// events is coalesced for a settle interval before the pass starts. Passes
// triggered here wait for any manual pass instead of overlapping it. Blocks
// until ctx is cancelled.
func (p *Pipeline) Watch(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.logger.Debug("change event", zap.String("path", ev.Path))
			p.drainSettle(ctx, events)
			if err := p.runBlocking(ctx, Options{}); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("watch-triggered pass failed", zap.Error(err))
			}
		}
	}
}

// drainSettle absorbs further events until the queue stays quiet for the
// settle interval, so rapid successive edits produce one pass.
func (p *Pipeline) drainSettle(ctx context.Context, events <-chan watcher.Event) {
	timer := time.NewTimer(p.settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.settle)
		case <-timer.C:
			return
		}
	}
}

// CleanupOrphans removes index entries and fingerprints for tracked files
// that no longer exist on disk. Returns the number of documents cleaned.
func (p *Pipeline) CleanupOrphans(ctx context.Context) (int, error) {
	p.passMu.Lock()
	defer p.passMu.Unlock()
	paths, err := p.tracker.TrackedPaths(ctx)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			continue
		}
		if err := p.index.DeleteByDocument(ctx, path); err != nil {
			return cleaned, fmt.Errorf("cleanup %s: %w", path, err)
		}
		if err := p.tracker.Forget(ctx, path); err != nil {
			return cleaned, fmt.Errorf("cleanup %s: %w", path, err)
		}
		p.logger.Info("orphan cleaned", zap.String("path", path))
		cleaned++
	}
	return cleaned, nil
}

// abort ends a cancelled pass, leaving the state of the last fully
// committed document.
func (p *Pipeline) abort(cause error) error {
	p.mutateState(func(s *models.IngestionState) {
		s.Status = models.StatusIdle
		s.CurrentPath = ""
		s.LastError = fmt.Sprintf("pass aborted: %v", cause)
		s.FinishedAt = time.Now()
	})
	p.logger.Info("ingestion pass aborted", zap.Error(cause))
	return cause
}

func (p *Pipeline) failState(err error) {
	p.mutateState(func(s *models.IngestionState) {
		s.Status = models.StatusFailed
		s.CurrentPath = ""
		s.LastError = err.Error()
		s.FinishedAt = time.Now()
	})
}

func (p *Pipeline) setStage(status models.IngestionStatus, path string) {
	p.mutateState(func(s *models.IngestionState) {
		s.Status = status
		s.CurrentPath = path
	})
}

func (p *Pipeline) setState(state models.IngestionState) {
	p.stateMu.Lock()
	p.state = state
	p.stateMu.Unlock()
}

func (p *Pipeline) mutateState(fn func(*models.IngestionState)) {
	p.stateMu.Lock()
	fn(&p.state)
	p.stateMu.Unlock()
}

// markdownTitle returns the first level-one heading of markdown content.
func markdownTitle(text, fileType string) string {
	if fileType != "md" {
		return ""
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	return ""
}
