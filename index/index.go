// Package index persists one vector collection per upload session and
// answers questions grounded in the passages retrieved from it.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/ingestion"
	"github.com/fabfab/fund-agent/llm"
)

// DefaultSearchLimit bounds retrieval width when callers pass no explicit
// limit. Retrieval must always be bounded; unbounded top-k is both a cost and
// an answer-quality problem.
const DefaultSearchLimit = 5

// ErrSessionNotFound is returned by Open when no collection exists for the
// requested session id.
var ErrSessionNotFound = errors.New("session index not found")

// BackendError wraps an embedding or storage I/O failure. Callers decide
// retry policy; the core fails fast.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("index backend: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Passage is one retrieved chunk with its similarity score.
type Passage struct {
	ID      string
	Content string
	Source  string
	Title   string
	Score   float64
}

// Handle is an opened per-session collection. It is shared, long-lived
// storage: conversations reference it but never own it.
type Handle interface {
	// SessionID names the collection this handle reads.
	SessionID() string

	// Search embeds the query and returns the limit nearest passages.
	Search(ctx context.Context, query string, limit int) ([]Passage, error)
}

// Store builds and reopens per-session collections.
type Store interface {
	// Build creates the session's collection if needed, then embeds and
	// writes the documents. Repeat calls with the same session id are
	// additive; callers wanting a clean slate use a new session id.
	Build(ctx context.Context, sessionID string, docs []ingestion.Document, embedder embeddings.Embedder) (Handle, error)

	// Open reopens an existing collection for query. Returns
	// ErrSessionNotFound when the session has never been built.
	Open(ctx context.Context, sessionID string, embedder embeddings.Embedder) (Handle, error)

	// Drop removes a session's collection. The service never calls this;
	// it exists for the operator CLI.
	Drop(ctx context.Context, sessionID string) error
}

const answerSystemPrompt = "You answer questions about fund documents using only the provided context passages. " +
	"If the context does not contain the information, say you don't know."

// Answer retrieves the top passages for the question and asks the client to
// answer strictly from them.
func Answer(ctx context.Context, handle Handle, client llm.Client, question string, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	passages, err := handle.Search(ctx, question, limit)
	if err != nil {
		return "", err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: answerSystemPrompt},
		{Role: llm.RoleUser, Content: GroundedPrompt(question, passages)},
	}

	answer, err := client.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}

	return strings.TrimSpace(answer), nil
}

// GroundedPrompt formats the retrieved passages and the question into one
// user message, closing with the strict-context instruction.
func GroundedPrompt(question string, passages []Passage) string {
	sb := &strings.Builder{}
	if len(passages) > 0 {
		sb.WriteString("Context passages:\n")
		for i, passage := range passages {
			label := passage.Source
			if passage.Title != "" {
				label = fmt.Sprintf("%s, %s", passage.Title, passage.Source)
			}
			fmt.Fprintf(sb, "Passage %d (%s):\n%s\n\n", i+1, label, strings.TrimSpace(passage.Content))
		}
	}
	sb.WriteString(question)
	sb.WriteString("\nIf the context does not contain the information to answer this question, then do not attempt to answer, and just say you don't know.")
	return sb.String()
}
