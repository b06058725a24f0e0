package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, []string{".md", ".txt"}, true), st
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func commitAll(t *testing.T, trk *Tracker, scan *ScanResult) {
	t.Helper()
	ctx := context.Background()
	for _, path := range append(append([]string{}, scan.Added...), scan.Modified...) {
		doc := &models.SourceDocument{
			Path:        path,
			Fingerprint: scan.Fingerprints[path],
			IngestedAt:  time.Now(),
		}
		if err := trk.Commit(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScan_InitialAllAdded(t *testing.T) {
	trk, _ := newTestTracker(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "alpha")
	writeFile(t, filepath.Join(dir, "b.txt"), "bravo")
	writeFile(t, filepath.Join(dir, "skip.pdf"), "ignored extension")

	scan, err := trk.Scan(context.Background(), dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(scan.Added) != 2 {
		t.Fatalf("expected 2 added, got %d: %v", len(scan.Added), scan.Added)
	}
	if len(scan.Modified) != 0 || len(scan.Removed) != 0 || scan.Unchanged != 0 {
		t.Errorf("unexpected classes: %+v", scan)
	}
	for _, path := range scan.Added {
		if _, ok := scan.Fingerprints[path]; !ok {
			t.Errorf("missing fingerprint for %s", path)
		}
	}
}

func TestScan_IncrementalClassification(t *testing.T) {
	trk, _ := newTestTracker(t)
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.md")
	pathB := filepath.Join(dir, "b.md")
	pathC := filepath.Join(dir, "sub", "c.md")
	writeFile(t, pathA, "alpha")
	writeFile(t, pathB, "bravo")
	writeFile(t, pathC, "charlie")

	ctx := context.Background()
	scan, err := trk.Scan(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	commitAll(t, trk, scan)

	// A modified, B removed, D added, C untouched.
	writeFile(t, pathA, "alpha revised")
	if err := os.Remove(pathB); err != nil {
		t.Fatal(err)
	}
	pathD := filepath.Join(dir, "d.md")
	writeFile(t, pathD, "delta")

	scan, err = trk.Scan(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(scan.Added) != 1 || scan.Added[0] != pathD {
		t.Errorf("added: %v", scan.Added)
	}
	if len(scan.Modified) != 1 || scan.Modified[0] != pathA {
		t.Errorf("modified: %v", scan.Modified)
	}
	if len(scan.Removed) != 1 || scan.Removed[0] != pathB {
		t.Errorf("removed: %v", scan.Removed)
	}
	if scan.Unchanged != 1 {
		t.Errorf("expected 1 unchanged, got %d", scan.Unchanged)
	}
}

func TestScan_ContentChangeDetectedDespiteSameSize(t *testing.T) {
	trk, _ := newTestTracker(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	writeFile(t, path, "aaaa")

	ctx := context.Background()
	scan, err := trk.Scan(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	commitAll(t, trk, scan)

	// Same length, different bytes.
	writeFile(t, path, "bbbb")
	scan, err = trk.Scan(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(scan.Modified) != 1 {
		t.Errorf("expected content change to be detected, got %+v", scan)
	}
}

func TestScan_FullIgnoresFingerprints(t *testing.T) {
	trk, _ := newTestTracker(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "alpha")

	ctx := context.Background()
	scan, err := trk.Scan(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	commitAll(t, trk, scan)

	scan, err = trk.Scan(ctx, dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(scan.Added) != 1 || scan.Unchanged != 0 {
		t.Errorf("full scan should re-add everything: %+v", scan)
	}
}

func TestScan_NonRecursive(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	trk := New(st, nil, false)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.md"), "top")
	writeFile(t, filepath.Join(dir, "sub", "nested.md"), "nested")

	scan, err := trk.Scan(context.Background(), dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(scan.Added) != 1 {
		t.Errorf("expected only the top-level file, got %v", scan.Added)
	}
}

func TestScan_MissingRoot(t *testing.T) {
	trk, _ := newTestTracker(t)
	if _, err := trk.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), false); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestForget_MakesFileAddedAgain(t *testing.T) {
	trk, _ := newTestTracker(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	writeFile(t, path, "alpha")

	ctx := context.Background()
	scan, err := trk.Scan(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	commitAll(t, trk, scan)
	if err := trk.Forget(ctx, path); err != nil {
		t.Fatal(err)
	}

	scan, err = trk.Scan(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(scan.Added) != 1 {
		t.Errorf("forgotten file should be added again: %+v", scan)
	}
}

func TestFingerprint_Equal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	writeFile(t, path, "alpha")
	fp1, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	fp2, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if !fp1.Equal(fp2) {
		t.Error("fingerprints of an unchanged file should be equal")
	}
	if fp1.Hash == "" || fp1.Size != 5 {
		t.Errorf("unexpected fingerprint: %+v", fp1)
	}
}
