// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kioku/kioku/internal/chat"
	"github.com/kioku/kioku/internal/chunker"
	"github.com/kioku/kioku/internal/config"
	"github.com/kioku/kioku/internal/embedding"
	"github.com/kioku/kioku/internal/extract"
	"github.com/kioku/kioku/internal/ingest"
	"github.com/kioku/kioku/internal/llm"
	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/rag"
	"github.com/kioku/kioku/internal/retriever"
	"github.com/kioku/kioku/internal/server"
	"github.com/kioku/kioku/internal/store"
	"github.com/kioku/kioku/internal/tracker"
	"github.com/kioku/kioku/internal/vectorindex"
	"github.com/kioku/kioku/internal/watcher"
	"github.com/kioku/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so "kioku server" from the project dir picks up the project's
// config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "ingest":
		runIngest()
	case "status":
		runStatus()
	case "conversations":
		runConversations()
	case "cleanup":
		runCleanup()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (scans, chunking, retrieval details)")
	noIngest := fs.Bool("no-ingest", false, "skip the startup ingestion pass")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()

	if !*noIngest {
		go func() {
			if err := components.Pipeline.Run(watchCtx, ingest.Options{}); err != nil {
				logger.Warn("startup ingestion failed", zap.Error(err))
			}
		}()
	}

	var watchSvc *watcher.Watcher
	if cfg.Notes.Watch {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.New(
			cfg.Notes.Directory,
			cfg.Notes.Extensions,
			cfg.Notes.RecursiveOrDefault(),
			0,
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go components.Pipeline.Watch(watchCtx, watchSvc.Events())
	}

	srv := server.NewServer(
		components.Engine,
		components.Pipeline,
		components.Store,
		components.Index,
		components.Chats,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	if watchSvc != nil {
		watchSvc.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = answer directly without a server)")
	conversationID := fs.String("conversation", "", "conversation ID to continue")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku ask [flags] <question>")
		os.Exit(1)
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: kioku ask [flags] <question>")
		os.Exit(1)
	}

	var answer *models.Answer
	if *serverURL != "" {
		answer = askViaHTTP(*serverURL, question, *conversationID)
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		answer, err = components.Engine.Ask(context.Background(), question, *conversationID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(answer); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Println(answer.Text)
		if len(answer.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, src := range answer.Sources {
				fmt.Printf("  %s (%.2f)\n", src.Filename, src.Similarity)
			}
		}
		if answer.ConversationID != "" {
			fmt.Printf("\nConversation: %s\n", answer.ConversationID)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, question, conversationID string) *models.Answer {
	body, _ := json.Marshal(map[string]string{
		"question":        question,
		"conversation_id": conversationID,
	})
	resp, err := http.Post(serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Ask failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var answer models.Answer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}
	return &answer
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = run the pass directly)")
	full := fs.Bool("full", false, "re-ingest every file, ignoring stored fingerprints")
	root := fs.String("root", "", "override the configured notes directory")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		body, _ := json.Marshal(map[string]interface{}{"full": *full, "root": *root})
		resp, err := http.Post(*serverURL+"/api/v1/ingest", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Ingest failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		printIngestState(b)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	if err := components.Pipeline.Run(context.Background(), ingest.Options{Full: *full, Root: *root}); err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	state := components.Pipeline.State()
	fmt.Printf("processed: %d  failed: %d  removed: %d\n", state.Processed, state.Failed, state.Removed)
}

func printIngestState(body []byte) {
	var state models.IngestionState
	if err := json.Unmarshal(body, &state); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Printf("processed: %d  failed: %d  removed: %d\n", state.Processed, state.Failed, state.Removed)
	if state.LastError != "" {
		fmt.Printf("last error: %s\n", state.LastError)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		fmt.Println(string(body))
	case "text":
		var stats struct {
			Documents       int64            `json:"documents"`
			Chunks          int64            `json:"chunks"`
			VectorIndexSize int              `json:"vector_index_size"`
			Conversations   *int             `json:"conversations,omitempty"`
			FileTypes       map[string]int64 `json:"file_types"`
		}
		if err := json.Unmarshal(body, &stats); err != nil {
			fmt.Println(string(body))
			return
		}
		fmt.Printf("documents:          %d\n", stats.Documents)
		fmt.Printf("chunks:             %d\n", stats.Chunks)
		fmt.Printf("vector_index_size:  %d\n", stats.VectorIndexSize)
		if stats.Conversations != nil {
			fmt.Printf("conversations:      %d\n", *stats.Conversations)
		}
		for ft, n := range stats.FileTypes {
			fmt.Printf("  %-8s %d\n", ft+":", n)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runConversations() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kioku conversations <list|show|delete|search> [args]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("conversations", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	limit := fs.Int("limit", 20, "max conversations to list")
	_ = fs.Parse(os.Args[3:])

	switch sub {
	case "list":
		getJSON(fmt.Sprintf("%s/api/v1/conversations?limit=%d", *serverURL, *limit))
	case "show":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kioku conversations show <id>")
			os.Exit(1)
		}
		getJSON(*serverURL + "/api/v1/conversations/" + fs.Arg(0))
	case "delete":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kioku conversations delete <id>")
			os.Exit(1)
		}
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/conversations/"+fs.Arg(0), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Deleted: %s\n", fs.Arg(0))
	case "search":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kioku conversations search <query>")
			os.Exit(1)
		}
		getJSON(*serverURL + "/api/v1/conversations/search?q=" + strings.Join(fs.Args(), "+"))
	default:
		fmt.Printf("Unknown conversations subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func getJSON(url string) {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Request failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		fmt.Println(string(b))
		return
	}
	fmt.Println(out.String())
}

func runCleanup() {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Post(*serverURL+"/api/v1/maintenance/cleanup", "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Cleanup failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Cleaned int `json:"cleaned"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		fmt.Println(string(b))
		return
	}
	fmt.Printf("Cleaned %d orphaned document(s)\n", out.Cleaned)
}

// Components holds initialized services.
type Components struct {
	Store    *store.Store
	Index    *vectorindex.Index
	Pipeline *ingest.Pipeline
	Engine   *rag.Engine
	Chats    *chat.Store
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder = embedding.NewOllamaEmbedder(
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
	)
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}

	index, err := vectorindex.Open(context.Background(), st, cfg.Embedding.Dimensions, embedder.ModelID())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index loaded",
		zap.Int("vectors", index.Size()),
		zap.String("model", index.ModelID()),
	)

	trk := tracker.New(st, cfg.Notes.Extensions, cfg.Notes.RecursiveOrDefault())
	ck := chunker.New(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	pipeline := ingest.New(
		trk,
		extract.NewExtractor(),
		ck,
		embedder,
		index,
		cfg.Notes.Directory,
		cfg.Embedding.BatchSize,
		logger,
	)

	var chats *chat.Store
	if cfg.Chat.EnabledOrDefault() {
		chats, err = chat.Open(cfg.Storage.ChatHistoryPath, cfg.Chat.MaxConversations)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to open chat history: %w", err)
		}
	}

	rtv := retriever.New(embedder, index, st, cfg.Retrieval.TopK, cfg.Retrieval.MinSimilarity, logger)
	asm := rag.NewAssembler(cfg.Retrieval.MaxPromptChars)
	client := llm.NewOllamaClient(
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
	)
	engine := rag.NewEngine(rtv, asm, client, chats, cfg.Retrieval.MaxHistory, logger)

	return &Components{
		Store:    st,
		Index:    index,
		Pipeline: pipeline,
		Engine:   engine,
		Chats:    chats,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - Private local RAG over your notes

Usage:
  kioku server [flags]                  Start the HTTP server
  kioku ask [flags] <question>          Ask a question about your notes
  kioku ingest [flags]                  Run an ingestion pass
  kioku status [flags]                  Show index statistics
  kioku conversations <sub> [args]      Manage chat history (list|show|delete|search)
  kioku cleanup [flags]                 Remove entries for deleted files
  kioku version                         Show version
  kioku help                            Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging (scans, chunking, retrieval details)
  --no-ingest        Skip the startup ingestion pass

Ask Flags:
  --server string        Server URL (default: http://localhost:8000). Use empty (--server "") to answer directly.
  --conversation string  Conversation ID to continue
  --output string        Output format: text or json (default: text)

Ingest Flags:
  --server string    Server URL (default: http://localhost:8000). Use empty (--server "") to run directly.
  --full             Re-ingest every file, ignoring stored fingerprints
  --root string      Override the configured notes directory

Examples:
  kioku server
  kioku ask "what did I write about garden planning?"
  kioku ask --conversation 4f1f... "and when was that?"
  kioku ingest --full
  kioku status
  kioku conversations list
  kioku cleanup`)
}
