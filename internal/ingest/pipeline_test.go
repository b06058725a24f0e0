package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kioku/kioku/internal/chunker"
	"github.com/kioku/kioku/internal/embedding"
	"github.com/kioku/kioku/internal/extract"
	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/store"
	"github.com/kioku/kioku/internal/tracker"
	"github.com/kioku/kioku/internal/vectorindex"
)

const testDims = 8

type testEnv struct {
	pipeline *Pipeline
	store    *store.Store
	index    *vectorindex.Index
	tracker  *tracker.Tracker
	root     string
}

func newTestEnv(t *testing.T, embedder embedding.Embedder) *testEnv {
	t.Helper()
	if embedder == nil {
		embedder = embedding.NewMockEmbedder(testDims)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ix, err := vectorindex.Open(context.Background(), st, testDims, embedder.ModelID())
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	trk := tracker.New(st, []string{".md", ".txt", ".pdf"}, true)
	p := New(trk, extract.NewExtractor(), chunker.New(100, 20), embedder, ix, root, 4, nil)
	return &testEnv{pipeline: p, store: st, index: ix, tracker: trk, root: root}
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_IngestsNewFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "a.md", "# Garden\n\nNotes about tomatoes and peppers.")
	env.write(t, "b.txt", "Plain text note about watering schedules.")

	ctx := context.Background()
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	state := env.pipeline.State()
	if state.Status != models.StatusIdle {
		t.Errorf("expected idle status, got %s", state.Status)
	}
	if state.Processed != 2 || state.Failed != 0 {
		t.Errorf("state: %+v", state)
	}
	if env.index.DocumentCount() != 2 {
		t.Errorf("expected 2 documents in index, got %d", env.index.DocumentCount())
	}
	if env.index.Size() == 0 {
		t.Error("expected chunks in index")
	}
	fps, err := env.store.Fingerprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 2 {
		t.Errorf("expected 2 fingerprints, got %d", len(fps))
	}
}

func TestRun_SecondPassIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "a.md", "stable content")

	ctx := context.Background()
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	sizeAfterFirst := env.index.Size()

	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	state := env.pipeline.State()
	if state.Processed != 0 || state.Removed != 0 {
		t.Errorf("second pass should process nothing: %+v", state)
	}
	if env.index.Size() != sizeAfterFirst {
		t.Errorf("index size changed: %d -> %d", sizeAfterFirst, env.index.Size())
	}
}

func TestRun_ModifiedFileRetiresOldChunks(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.write(t, "a.md", "original content about gardening")

	ctx := context.Background()
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	oldIDs := env.index.ChunkIDsForDocument(path)
	if len(oldIDs) == 0 {
		t.Fatal("expected chunks after first pass")
	}

	env.write(t, "a.md", "completely rewritten content about cooking instead")
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	newIDs := env.index.ChunkIDsForDocument(path)
	if len(newIDs) == 0 {
		t.Fatal("expected chunks after re-ingest")
	}
	old := make(map[string]bool)
	for _, id := range oldIDs {
		old[id] = true
	}
	for _, id := range newIDs {
		if old[id] {
			t.Errorf("old chunk ID %s survived a content change", id)
		}
	}
	state := env.pipeline.State()
	if state.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", state.Processed)
	}
}

func TestRun_RemovedFileDropsEntries(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.write(t, "a.md", "soon to be deleted")
	env.write(t, "b.md", "stays around")

	ctx := context.Background()
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	state := env.pipeline.State()
	if state.Removed != 1 {
		t.Errorf("expected 1 removed, got %d", state.Removed)
	}
	if len(env.index.ChunkIDsForDocument(path)) != 0 {
		t.Error("removed document still has index entries")
	}
	fps, _ := env.store.Fingerprints(ctx)
	if _, ok := fps[path]; ok {
		t.Error("removed document still tracked")
	}
}

func TestRun_FailingDocumentSkippedAndRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "good.md", "readable note")
	// Not a real PDF, so extraction fails.
	bad := env.write(t, "bad.pdf", "this is not a pdf")

	ctx := context.Background()
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	state := env.pipeline.State()
	if state.Processed != 1 || state.Failed != 1 {
		t.Errorf("state: %+v", state)
	}
	if state.LastError == "" {
		t.Error("expected last error to be recorded")
	}

	// The failed file stays untracked, so the next pass retries it.
	fps, _ := env.store.Fingerprints(ctx)
	if _, ok := fps[bad]; ok {
		t.Error("failed document should not be tracked")
	}
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	if state := env.pipeline.State(); state.Failed != 1 {
		t.Errorf("expected retry to fail again: %+v", state)
	}
}

// blockingEmbedder parks EmbedBatch until released, to hold a pass open.
type blockingEmbedder struct {
	*embedding.MockEmbedder
	entered chan struct{}
	release chan struct{}
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestRun_ConcurrentPassRejected(t *testing.T) {
	be := &blockingEmbedder{
		MockEmbedder: embedding.NewMockEmbedder(testDims),
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	env := newTestEnv(t, be)
	env.write(t, "a.md", "note content")

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- env.pipeline.Run(ctx, Options{}) }()

	select {
	case <-be.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never reached embedding")
	}
	if err := env.pipeline.Run(ctx, Options{}); !errors.Is(err, ErrPassInProgress) {
		t.Errorf("expected ErrPassInProgress, got %v", err)
	}
	close(be.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	// Lock released; another pass runs fine.
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
}

func TestRun_CancelledBetweenDocuments(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "a.md", "first note")
	env.write(t, "b.md", "second note")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := env.pipeline.Run(ctx, Options{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	state := env.pipeline.State()
	if state.Status != models.StatusIdle {
		t.Errorf("aborted pass should end idle, got %s", state.Status)
	}
}

func TestCleanupOrphans(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.write(t, "a.md", "transient note")

	ctx := context.Background()
	if err := env.pipeline.Run(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	cleaned, err := env.pipeline.CleanupOrphans(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned != 1 {
		t.Errorf("expected 1 cleaned, got %d", cleaned)
	}
	fps, _ := env.store.Fingerprints(ctx)
	if len(fps) != 0 {
		t.Errorf("expected no fingerprints, got %d", len(fps))
	}
	if env.index.Size() != 0 {
		t.Errorf("expected empty index, got %d entries", env.index.Size())
	}
}

func TestMarkdownTitle(t *testing.T) {
	if got := markdownTitle("# My Title\n\nbody", "md"); got != "My Title" {
		t.Errorf("got %q", got)
	}
	if got := markdownTitle("no heading here", "md"); got != "" {
		t.Errorf("got %q", got)
	}
	if got := markdownTitle("# Looks Like Markdown", "txt"); got != "" {
		t.Errorf("non-markdown should have no title, got %q", got)
	}
}
