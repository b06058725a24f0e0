package models

import "time"

// ChatMessage is one prior turn of conversation context passed to the
// assembler and completion service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationEntry is one stored question/answer exchange.
type ConversationEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	Sources   []Source  `json:"sources,omitempty"`
}

// Conversation is a stored chat session with its exchanges.
type Conversation struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Entries   []ConversationEntry `json:"entries"`
}

// ConversationSummary is the list view of a conversation, without entries.
type ConversationSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	EntryCount int       `json:"entry_count"`
}
