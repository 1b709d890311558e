package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/fund-agent/llm"
)

// RegisterOpenAI registers the "openai" embedding provider. Required params:
// modelName, plus apiKey unless a process-level key is supplied here.
func RegisterOpenAI(reg *Registry, defaultAPIKey, defaultBaseURL string, dimension int) {
	reg.Register("openai", func(params llm.Params) (Embedder, error) {
		missing := make([]string, 0, 2)
		model := params.Get("modelName", "")
		if model == "" {
			missing = append(missing, "modelName")
		}
		apiKey := params.Get("apiKey", defaultAPIKey)
		if apiKey == "" {
			missing = append(missing, "apiKey")
		}
		if len(missing) > 0 {
			return nil, &ParamsError{Provider: "openai", Missing: missing}
		}
		return newOpenAIEmbedder(apiKey, params.Get("baseUrl", defaultBaseURL), model, dimension), nil
	})
}

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

func newOpenAIEmbedder(apiKey, baseURL, model string, dimension int) *openAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai embeddings: %w", err)
	}

	results := make([][]float32, len(resp.Data))
	for i, datum := range resp.Data {
		if e.dimension > 0 && len(datum.Embedding) != e.dimension {
			return nil, fmt.Errorf("openai embedding dimension mismatch: expected %d, got %d", e.dimension, len(datum.Embedding))
		}
		results[i] = datum.Embedding
	}

	return results, nil
}

var _ Embedder = (*openAIEmbedder)(nil)
