package session

import (
	"fmt"

	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/llm"
)

// Session is the resolved model pairing for one user session. Streaming is
// taken from the LLM provider's declared capability; the conversation engine
// fixes its execution path on this bit once, at resolution time.
type Session struct {
	LLMProvider       string
	EmbeddingProvider string
	LLM               llm.Client
	Embedder          embeddings.Embedder
	Streaming         bool
}

// Resolver turns validated Settings into a Session using the two provider
// registries.
type Resolver struct {
	LLMs      *llm.Registry
	Embedders *embeddings.Registry
}

func NewResolver(llms *llm.Registry, embedders *embeddings.Registry) *Resolver {
	return &Resolver{LLMs: llms, Embedders: embedders}
}

// Resolve constructs both clients. On any failure nothing is returned, so a
// caller never observes a half-built session.
func (r *Resolver) Resolve(settings Settings) (*Session, error) {
	client, err := r.LLMs.Resolve(settings.LLMProvider, settings.LLMParams)
	if err != nil {
		return nil, fmt.Errorf("resolve llm: %w", err)
	}

	embedder, err := r.Embedders.Resolve(settings.EmbeddingProvider, settings.EmbeddingParams)
	if err != nil {
		return nil, fmt.Errorf("resolve embedder: %w", err)
	}

	return &Session{
		LLMProvider:       settings.LLMProvider,
		EmbeddingProvider: settings.EmbeddingProvider,
		LLM:               client,
		Embedder:          embedder,
		Streaming:         r.LLMs.Streaming(settings.LLMProvider),
	}, nil
}
