// Package llm defines the chat-completion client contract and an open
// registry of named providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Client produces one complete answer for a message sequence.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamClient delivers the answer incrementally. The callback receives each
// fragment in order; returning an error aborts the stream.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, messages []Message, fn func(string) error) error
}

// Params carries provider-specific construction parameters taken from the
// client-supplied settings payload.
type Params map[string]string

// Get returns the trimmed value for key, or fallback when absent or blank.
func (p Params) Get(key, fallback string) string {
	if v, ok := p[key]; ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

// ErrUnknownProvider is returned when a provider name has no registration.
var ErrUnknownProvider = errors.New("unknown llm provider")

// ParamsError reports required construction parameters missing from a
// settings payload.
type ParamsError struct {
	Provider string
	Missing  []string
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("llm provider %q: missing required params: %s", e.Provider, strings.Join(e.Missing, ", "))
}

// Factory builds a client for one provider. Construction must not perform
// network I/O; clients dial on first use.
type Factory struct {
	New func(Params) (Client, error)

	// Streaming declares whether clients from this factory deliver
	// token-by-token output. The conversation engine selects its execution
	// path from this bit once per session.
	Streaming bool
}

// Registry maps provider names to factories. Adding a provider is one
// Register call; no other code changes.
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

// Resolve constructs a client for the named provider.
func (r *Registry) Resolve(name string, params Params) (Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return factory.New(params)
}

// Streaming reports the declared streaming capability of the named provider.
// Unregistered names report false.
func (r *Registry) Streaming(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[name].Streaming
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
