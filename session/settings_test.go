package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/llm"
	"github.com/fabfab/fund-agent/session"
)

const validSettings = `{
	"llm": "stub",
	"llms": {"stub": {"modelName": "test-model"}},
	"embedding": "stub",
	"embeddings": {"stub": {"modelName": "test-embed"}}
}`

func TestParseSettingsValid(t *testing.T) {
	settings, err := session.ParseSettings([]byte(validSettings))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if settings.LLMProvider != "stub" || settings.EmbeddingProvider != "stub" {
		t.Fatalf("unexpected providers: %+v", settings)
	}
	if settings.LLMParams["modelName"] != "test-model" {
		t.Fatalf("llm params not carried: %v", settings.LLMParams)
	}
	if settings.EmbeddingParams["modelName"] != "test-embed" {
		t.Fatalf("embedding params not carried: %v", settings.EmbeddingParams)
	}
}

func TestParseSettingsNamesMissingKey(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		key     string
	}{
		{"not json", `{{`, "settings"},
		{"missing llm selector", `{"embedding": "e", "embeddings": {"e": {}}}`, "llm"},
		{"missing llm params", `{"llm": "a", "llms": {}, "embedding": "e", "embeddings": {"e": {}}}`, "llms.a"},
		{"missing embedding selector", `{"llm": "a", "llms": {"a": {}}}`, "embedding"},
		{"missing embedding params", `{"llm": "a", "llms": {"a": {}}, "embedding": "e", "embeddings": {}}`, "embeddings.e"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := session.ParseSettings([]byte(tc.payload))
			var settingsErr *session.SettingsError
			if !errors.As(err, &settingsErr) {
				t.Fatalf("expected SettingsError, got %v", err)
			}
			if settingsErr.Key != tc.key {
				t.Fatalf("expected key %q, got %q", tc.key, settingsErr.Key)
			}
		})
	}
}

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	return "", nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

var (
	_ llm.Client          = stubLLM{}
	_ embeddings.Embedder = stubEmbedder{}
)

func newStubResolver(streaming bool) *session.Resolver {
	llms := llm.NewRegistry()
	llms.Register("stub", llm.Factory{
		Streaming: streaming,
		New: func(llm.Params) (llm.Client, error) {
			return stubLLM{}, nil
		},
	})

	embedders := embeddings.NewRegistry()
	embedders.Register("stub", func(llm.Params) (embeddings.Embedder, error) {
		return stubEmbedder{}, nil
	})

	return session.NewResolver(llms, embedders)
}

func TestResolveMatchesProviderNames(t *testing.T) {
	settings, err := session.ParseSettings([]byte(validSettings))
	if err != nil {
		t.Fatalf("parse settings: %v", err)
	}

	sess, err := newStubResolver(true).Resolve(settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sess.LLMProvider != settings.LLMProvider {
		t.Fatalf("llm provider mismatch: %q vs %q", sess.LLMProvider, settings.LLMProvider)
	}
	if sess.EmbeddingProvider != settings.EmbeddingProvider {
		t.Fatalf("embedding provider mismatch: %q vs %q", sess.EmbeddingProvider, settings.EmbeddingProvider)
	}
	if sess.LLM == nil || sess.Embedder == nil {
		t.Fatal("expected both clients constructed")
	}
	if !sess.Streaming {
		t.Fatal("streaming capability must follow the provider declaration")
	}
}

func TestResolveUnknownProviderReturnsNothing(t *testing.T) {
	settings := session.Settings{
		LLMProvider:       "nope",
		LLMParams:         llm.Params{},
		EmbeddingProvider: "stub",
		EmbeddingParams:   llm.Params{},
	}

	sess, err := newStubResolver(false).Resolve(settings)
	if !errors.Is(err, llm.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if sess != nil {
		t.Fatal("expected no session on failure")
	}
}

func TestResolveUnknownEmbeddingProvider(t *testing.T) {
	settings := session.Settings{
		LLMProvider:       "stub",
		LLMParams:         llm.Params{},
		EmbeddingProvider: "nope",
		EmbeddingParams:   llm.Params{},
	}

	sess, err := newStubResolver(false).Resolve(settings)
	if !errors.Is(err, embeddings.ErrUnknownProvider) {
		t.Fatalf("expected embeddings ErrUnknownProvider, got %v", err)
	}
	if sess != nil {
		t.Fatal("expected no session on failure")
	}
}
