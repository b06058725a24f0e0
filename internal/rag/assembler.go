// Package rag assembles retrieval results into grounded prompts and
// orchestrates the question answering flow.
package rag

import (
	"fmt"
	"strings"

	"github.com/kioku/kioku/internal/models"
)

const promptHeader = `You are a helpful assistant answering questions based on the user's personal notes.
Use the following context from their notes to answer the question.
If the context doesn't contain relevant information, say so honestly.`

// Assembler builds LLM prompts from retrieved chunks within a character
// budget.
type Assembler struct {
	maxPromptChars int
}

// NewAssembler creates an assembler. maxPromptChars bounds the assembled
// prompt; the budget is spent on higher-ranked chunks first.
func NewAssembler(maxPromptChars int) *Assembler {
	if maxPromptChars <= 0 {
		maxPromptChars = 8000
	}
	return &Assembler{maxPromptChars: maxPromptChars}
}

// BuildPrompt renders the question, conversation history, and retrieved
// chunks into the final prompt. When the full prompt would exceed the budget,
// whole chunks are dropped lowest-ranked first; the question and history are
// never cut. Returns the prompt and the chunks actually included, in rank
// order.
func (a *Assembler) BuildPrompt(question string, result *models.RetrievalResult, history []models.ChatMessage) (string, []*models.ScoredChunk) {
	historyBlock := renderHistory(history)
	fixed := len(promptHeader) + len(historyBlock) + len(question) + 64

	included := result.Chunks
	for len(included) > 0 {
		if fixed+contextSize(included) <= a.maxPromptChars {
			break
		}
		included = included[:len(included)-1]
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nContext:\n")
	if len(included) == 0 {
		b.WriteString("(no relevant notes found)\n")
	}
	for _, sc := range included {
		fmt.Fprintf(&b, "Source: %s\n%s\n\n", sc.Chunk.Filename(), sc.Chunk.Content)
	}
	if historyBlock != "" {
		b.WriteString(historyBlock)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer:", question)
	return b.String(), included
}

func contextSize(chunks []*models.ScoredChunk) int {
	n := 0
	for _, sc := range chunks {
		n += len(sc.Chunk.Filename()) + len(sc.Chunk.Content) + 12
	}
	return n
}

func renderHistory(history []models.ChatMessage) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, msg := range history {
		switch msg.Role {
		case "user":
			fmt.Fprintf(&b, "User: %s\n", msg.Content)
		case "assistant":
			fmt.Fprintf(&b, "Assistant: %s\n", msg.Content)
		}
	}
	return b.String()
}

// Sources derives the attribution list from the chunks included in a prompt.
// One entry per filename carrying its best similarity, ordered by first
// appearance in rank order.
func Sources(included []*models.ScoredChunk) []models.Source {
	var out []models.Source
	seen := make(map[string]int)
	for _, sc := range included {
		name := sc.Chunk.Filename()
		if idx, ok := seen[name]; ok {
			if sc.Similarity > out[idx].Similarity {
				out[idx].Similarity = sc.Similarity
			}
			continue
		}
		seen[name] = len(out)
		out = append(out, models.Source{Filename: name, Similarity: sc.Similarity})
	}
	return out
}
