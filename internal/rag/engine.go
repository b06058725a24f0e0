package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kioku/kioku/internal/chat"
	"github.com/kioku/kioku/internal/llm"
	"github.com/kioku/kioku/internal/models"
	"github.com/kioku/kioku/internal/retriever"
)

// Engine answers questions by retrieving relevant chunks, assembling a
// grounded prompt, and generating a completion.
type Engine struct {
	retriever  *retriever.Retriever
	assembler  *Assembler
	llm        llm.Client
	chats      *chat.Store
	maxHistory int
	logger     *zap.Logger
}

// NewEngine creates an engine. chats may be nil to disable conversation
// persistence; maxHistory bounds how many prior exchanges flow into the
// prompt.
func NewEngine(r *retriever.Retriever, a *Assembler, client llm.Client, chats *chat.Store, maxHistory int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		retriever:  r,
		assembler:  a,
		llm:        client,
		chats:      chats,
		maxHistory: maxHistory,
		logger:     logger,
	}
}

// Ask answers question. A non-empty conversationID continues that
// conversation, feeding its recent history into the prompt. When generation
// fails after successful retrieval, the answer still carries the sources
// along with the error, since the citations are useful on their own.
func (e *Engine) Ask(ctx context.Context, question, conversationID string) (*models.Answer, error) {
	result, err := e.retriever.Retrieve(ctx, question, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	var history []models.ChatMessage
	if e.chats != nil && conversationID != "" {
		history = e.chats.History(conversationID, e.maxHistory)
	}

	prompt, included := e.assembler.BuildPrompt(question, result, history)
	sources := Sources(included)
	e.logger.Debug("prompt assembled",
		zap.Int("chunks_retrieved", len(result.Chunks)),
		zap.Int("chunks_included", len(included)),
		zap.Int("prompt_chars", len(prompt)),
	)

	text, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		return &models.Answer{Sources: sources}, fmt.Errorf("generate answer: %w", err)
	}

	answer := &models.Answer{Text: text, Sources: sources, ConversationID: conversationID}
	if e.chats != nil {
		id, err := e.chats.StoreExchange(conversationID, question, text, sources)
		if err != nil {
			// The answer is already generated; losing one history entry is
			// not worth failing the request.
			e.logger.Warn("failed to persist exchange", zap.Error(err))
		} else {
			answer.ConversationID = id
		}
	}
	return answer, nil
}
