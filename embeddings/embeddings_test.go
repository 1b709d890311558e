package embeddings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/llm"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

var _ embeddings.Embedder = stubEmbedder{}

func TestRegistryResolvesRegisteredProvider(t *testing.T) {
	reg := embeddings.NewRegistry()
	reg.Register("stub", func(llm.Params) (embeddings.Embedder, error) {
		return stubEmbedder{}, nil
	})

	embedder, err := reg.Resolve("stub", llm.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder == nil {
		t.Fatal("expected an embedder")
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	reg := embeddings.NewRegistry()

	embedder, err := reg.Resolve("nope", llm.Params{})
	if !errors.Is(err, embeddings.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if embedder != nil {
		t.Fatal("expected no embedder on failure")
	}
}

func TestOllamaFactoryRequiresModelName(t *testing.T) {
	reg := embeddings.NewRegistry()
	embeddings.RegisterOllama(reg, "", 0)

	_, err := reg.Resolve("ollama", llm.Params{})
	var paramsErr *embeddings.ParamsError
	if !errors.As(err, &paramsErr) {
		t.Fatalf("expected ParamsError, got %v", err)
	}
	if len(paramsErr.Missing) != 1 || paramsErr.Missing[0] != "modelName" {
		t.Fatalf("unexpected missing keys: %v", paramsErr.Missing)
	}
}

func TestOllamaFactoryAcceptsModelName(t *testing.T) {
	reg := embeddings.NewRegistry()
	embeddings.RegisterOllama(reg, "http://localhost:11434", 768)

	embedder, err := reg.Resolve("ollama", llm.Params{"modelName": "nomic-embed-text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder == nil {
		t.Fatal("expected an embedder")
	}
}
