package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kioku/kioku/internal/chat"
	"github.com/kioku/kioku/internal/ingest"
)

type chatRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	s.logger.Debug("chat request",
		zap.String("question", req.Question),
		zap.String("conversation_id", req.ConversationID),
	)
	answer, err := s.engine.Ask(r.Context(), req.Question, req.ConversationID)
	if err != nil {
		s.logger.Error("chat failed", zap.Error(err))
		if answer != nil && len(answer.Sources) > 0 {
			// Retrieval succeeded but generation did not; return the
			// citations with the error so the client still gets something.
			s.respondJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":   err.Error(),
				"sources": answer.Sources,
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

type ingestRequest struct {
	Full bool   `json:"full,omitempty"`
	Root string `json:"root,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.logger.Debug("ingest request", zap.Bool("full", req.Full), zap.String("root", req.Root))
	err := s.pipeline.Run(r.Context(), ingest.Options{Full: req.Full, Root: req.Root})
	if errors.Is(err, ingest.ErrPassInProgress) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("ingestion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.pipeline.State())
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.pipeline.State())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("stats: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("stats: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	fileTypes, err := s.storage.FileTypeCounts(ctx)
	if err != nil {
		s.logger.Error("stats: file type counts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents":         docCount,
		"chunks":            chunkCount,
		"vector_index_size": s.index.Size(),
		"file_types":        fileTypes,
		"config": map[string]interface{}{
			"notes_directory":      s.config.Notes.Directory,
			"embedding_model":      s.index.ModelID(),
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chunk_size":           s.config.Retrieval.ChunkSize,
			"chunk_overlap":        s.config.Retrieval.ChunkOverlap,
			"database_path":        s.config.Storage.DatabasePath,
		},
	}
	if s.chats != nil {
		resp["conversations"] = s.chats.Count()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned, err := s.pipeline.CleanupOrphans(r.Context())
	if err != nil {
		s.logger.Error("cleanup failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"cleaned": cleaned})
}

func (s *Server) handleConversationsList(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		s.respondError(w, http.StatusNotImplemented, "chat history disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": s.chats.List(limit),
	})
}

func (s *Server) handleConversationsSearch(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		s.respondError(w, http.StatusNotImplemented, "chat history disabled")
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": s.chats.Search(q),
	})
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		s.respondError(w, http.StatusNotImplemented, "chat history disabled")
		return
	}
	id := chi.URLParam(r, "id")
	conv, err := s.chats.Get(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if s.chats == nil {
		s.respondError(w, http.StatusNotImplemented, "chat history disabled")
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete conversation request", zap.String("id", id))
	if err := s.chats.Delete(id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("conversation delete failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
