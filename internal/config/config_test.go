package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
notes:
  directory: /tmp/notes
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port: %d", cfg.Server.Port)
	}
	if cfg.Embedding.Model != "all-minilm" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("embedding: %+v", cfg.Embedding)
	}
	if cfg.Embedding.BatchSize != 16 {
		t.Errorf("batch size: %d", cfg.Embedding.BatchSize)
	}
	if cfg.Retrieval.ChunkSize != 500 || cfg.Retrieval.ChunkOverlap != 50 {
		t.Errorf("retrieval: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top k: %d", cfg.Retrieval.TopK)
	}
	if cfg.LLM.Model != "mistral:latest" || cfg.LLM.TimeoutSeconds != 60 {
		t.Errorf("llm: %+v", cfg.LLM)
	}
	if len(cfg.Notes.Extensions) == 0 {
		t.Error("expected default extensions")
	}
	if !cfg.Notes.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
	if !cfg.Chat.EnabledOrDefault() {
		t.Error("chat should default to enabled")
	}
	if cfg.Storage.DatabasePath == "" || cfg.Storage.ChatHistoryPath == "" {
		t.Errorf("storage paths: %+v", cfg.Storage)
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
debug: true
server:
  port: 9999
notes:
  directory: /tmp/notes
  extensions: [".md"]
  recursive: false
retrieval:
  chunk_size: 200
  chunk_overlap: 30
chat:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug || cfg.Server.Port != 9999 {
		t.Errorf("got %+v", cfg)
	}
	if cfg.Retrieval.ChunkSize != 200 || cfg.Retrieval.ChunkOverlap != 30 {
		t.Errorf("retrieval: %+v", cfg.Retrieval)
	}
	if cfg.Notes.RecursiveOrDefault() {
		t.Error("recursive should be false")
	}
	if cfg.Chat.EnabledOrDefault() {
		t.Error("chat should be disabled")
	}
}

func TestLoad_MissingNotesDirectory(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8000
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing notes.directory")
	}
}

func TestLoad_OverlapMustBeSmallerThanSize(t *testing.T) {
	path := writeConfig(t, `
notes:
  directory: /tmp/notes
retrieval:
  chunk_size: 100
  chunk_overlap: 100
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for overlap >= size")
	}
}

func TestLoad_ExtensionsMustStartWithDot(t *testing.T) {
	path := writeConfig(t, `
notes:
  directory: /tmp/notes
  extensions: ["md"]
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "dot") {
		t.Errorf("expected extension validation error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_RelativePathsExpanded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
notes:
  directory: ./notes
storage:
  database_path: ./state/kioku.db
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(cfg.Notes.Directory) {
		t.Errorf("notes dir not absolute: %s", cfg.Notes.Directory)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "state/kioku.db") {
		t.Errorf("database path: %s", cfg.Storage.DatabasePath)
	}
}
