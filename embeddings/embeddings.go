// Package embeddings defines the text-embedding contract and an open
// registry of named providers, mirroring the llm package.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fabfab/fund-agent/llm"
)

// Embedder converts a batch of texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrUnknownProvider is returned when a provider name has no registration.
var ErrUnknownProvider = errors.New("unknown embedding provider")

// ParamsError reports required construction parameters missing from a
// settings payload.
type ParamsError struct {
	Provider string
	Missing  []string
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("embedding provider %q: missing required params: %s", e.Provider, strings.Join(e.Missing, ", "))
}

// Factory builds an embedder for one provider without performing network I/O.
type Factory func(llm.Params) (Embedder, error)

// Registry maps provider names to embedder factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve constructs an embedder for the named provider.
func (r *Registry) Resolve(name string, params llm.Params) (Embedder, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return factory(params)
}
