package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// RegisterOpenAI registers the "openai" provider. Required params: modelName,
// plus apiKey unless a process-level key is supplied here. The client is
// single-shot: it completes a turn in one call, so its streaming capability
// is declared false.
func RegisterOpenAI(reg *Registry, defaultAPIKey, defaultBaseURL string) {
	reg.Register("openai", Factory{
		Streaming: false,
		New: func(params Params) (Client, error) {
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
			return newOpenAIClient(apiKey, params.Get("baseUrl", defaultBaseURL), model), nil
		},
	})
}

type openAIClient struct {
	client *openai.Client
	model  string
}

func newOpenAIClient(apiKey, baseURL, model string) *openAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &openAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
	}

	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

var _ Client = (*openAIClient)(nil)
