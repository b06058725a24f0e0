// Package chat persists conversation history as a JSON file.
//
// The file keeps chat history out of the vector database on purpose: it is
// human-readable, easy to back up, and trivially portable. All access goes
// through one mutex; writes rewrite the whole file atomically via a temp
// file rename.
package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kioku/kioku/internal/models"
)

const titleMaxLen = 50

// ErrNotFound is returned when a conversation ID does not exist.
var ErrNotFound = fmt.Errorf("conversation not found")

// Store is a file-backed conversation store.
type Store struct {
	path    string
	maxConv int

	mu            sync.Mutex
	conversations map[string]*models.Conversation
}

// Open loads the store from path, creating parent directories as needed. A
// missing or empty file starts an empty store; a corrupt file is an error so
// history is never silently discarded. maxConversations bounds retention;
// the oldest conversations are evicted past it (0 = unlimited).
func Open(path string, maxConversations int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create chat directory: %w", err)
		}
	}
	s := &Store{
		path:          path,
		maxConv:       maxConversations,
		conversations: make(map[string]*models.Conversation),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var convs []*models.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("parse chat history %s: %w", path, err)
	}
	for _, c := range convs {
		s.conversations[c.ID] = c
	}
	return s, nil
}

// StoreExchange appends one question/answer exchange. An empty
// conversationID starts a new conversation titled from the question; the
// conversation ID is returned either way.
func (s *Store) StoreExchange(conversationID, question, response string, sources []models.Source) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	conv, ok := s.conversations[conversationID]
	if conversationID == "" || !ok {
		conv = &models.Conversation{
			ID:        uuid.New().String(),
			Title:     makeTitle(question),
			CreatedAt: now,
		}
		s.conversations[conv.ID] = conv
	}
	conv.Entries = append(conv.Entries, models.ConversationEntry{
		Timestamp: now,
		Question:  question,
		Response:  response,
		Sources:   sources,
	})
	conv.UpdatedAt = now
	s.evictLocked()
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// Get returns the conversation with the given ID.
func (s *Store) Get(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *conv
	cp.Entries = append([]models.ConversationEntry(nil), conv.Entries...)
	return &cp, nil
}

// History returns the last maxTurns exchanges of a conversation flattened
// into user/assistant messages, oldest first. An unknown or empty ID yields
// nil.
func (s *Store) History(id string, maxTurns int) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil
	}
	entries := conv.Entries
	if maxTurns > 0 && len(entries) > maxTurns {
		entries = entries[len(entries)-maxTurns:]
	}
	msgs := make([]models.ChatMessage, 0, len(entries)*2)
	for _, e := range entries {
		msgs = append(msgs,
			models.ChatMessage{Role: "user", Content: e.Question},
			models.ChatMessage{Role: "assistant", Content: e.Response},
		)
	}
	return msgs
}

// List returns conversation summaries sorted by most recently updated.
// limit <= 0 returns all.
func (s *Store) List(limit int) []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationSummary, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, models.ConversationSummary{
			ID:         c.ID,
			Title:      c.Title,
			CreatedAt:  c.CreatedAt,
			UpdatedAt:  c.UpdatedAt,
			EntryCount: len(c.Entries),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Delete removes a conversation. Returns ErrNotFound for unknown IDs.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.conversations, id)
	return s.saveLocked()
}

// Search returns summaries of conversations whose title or any exchange
// contains query, case-insensitive, most recently updated first.
func (s *Store) Search(query string) []models.ConversationSummary {
	q := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ConversationSummary
	for _, c := range s.conversations {
		if !conversationMatches(c, q) {
			continue
		}
		out = append(out, models.ConversationSummary{
			ID:         c.ID,
			Title:      c.Title,
			CreatedAt:  c.CreatedAt,
			UpdatedAt:  c.UpdatedAt,
			EntryCount: len(c.Entries),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of stored conversations.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func conversationMatches(c *models.Conversation, q string) bool {
	if strings.Contains(strings.ToLower(c.Title), q) {
		return true
	}
	for _, e := range c.Entries {
		if strings.Contains(strings.ToLower(e.Question), q) ||
			strings.Contains(strings.ToLower(e.Response), q) {
			return true
		}
	}
	return false
}

// evictLocked drops the oldest conversations past the retention limit.
func (s *Store) evictLocked() {
	if s.maxConv <= 0 || len(s.conversations) <= s.maxConv {
		return
	}
	type stamped struct {
		id string
		at time.Time
	}
	all := make([]stamped, 0, len(s.conversations))
	for id, c := range s.conversations {
		all = append(all, stamped{id: id, at: c.UpdatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, st := range all[:len(all)-s.maxConv] {
		delete(s.conversations, st.id)
	}
}

func (s *Store) saveLocked() error {
	convs := make([]*models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chat history: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write chat history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace chat history: %w", err)
	}
	return nil
}

func makeTitle(question string) string {
	title := strings.TrimSpace(question)
	runes := []rune(title)
	if len(runes) > titleMaxLen {
		title = string(runes[:titleMaxLen]) + "..."
	}
	if title == "" {
		title = "Untitled conversation"
	}
	return title
}
