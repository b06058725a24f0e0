// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kioku/kioku/internal/chat"
	"github.com/kioku/kioku/internal/config"
	"github.com/kioku/kioku/internal/ingest"
	"github.com/kioku/kioku/internal/rag"
	"github.com/kioku/kioku/internal/store"
	"github.com/kioku/kioku/internal/vectorindex"
)

// Server is the HTTP server for the Kioku API.
type Server struct {
	engine   *rag.Engine
	pipeline *ingest.Pipeline
	storage  *store.Store
	index    *vectorindex.Index
	chats    *chat.Store
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. chats may be nil
// when conversation persistence is disabled.
func NewServer(
	engine *rag.Engine,
	pipeline *ingest.Pipeline,
	storage *store.Store,
	index *vectorindex.Index,
	chats *chat.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		pipeline: pipeline,
		storage:  storage,
		index:    index,
		chats:    chats,
		config:   cfg,
		logger:   logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/chat", s.handleChat)
	r.Post("/api/v1/ingest", s.handleIngest)
	r.Get("/api/v1/ingest/status", s.handleIngestStatus)
	r.Get("/api/v1/stats", s.handleStats)
	r.Post("/api/v1/maintenance/cleanup", s.handleCleanup)
	r.Get("/api/v1/conversations", s.handleConversationsList)
	r.Get("/api/v1/conversations/search", s.handleConversationsSearch)
	r.Get("/api/v1/conversations/{id}", s.handleConversationGet)
	r.Delete("/api/v1/conversations/{id}", s.handleConversationDelete)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
