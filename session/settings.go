// Package session turns a client-supplied settings payload into a resolved
// provider pairing and tracks per-session records.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/fabfab/fund-agent/llm"
)

// Settings is the immutable provider selection for one session. The wire
// shape nests per-provider parameter maps under the selector keys:
//
//	{"llm": "ollama", "llms": {"ollama": {"modelName": "llama3"}},
//	 "embedding": "ollama", "embeddings": {"ollama": {"modelName": "nomic-embed-text"}}}
type Settings struct {
	LLMProvider       string
	LLMParams         llm.Params
	EmbeddingProvider string
	EmbeddingParams   llm.Params
}

// SettingsError reports a structurally invalid settings payload, naming the
// offending key.
type SettingsError struct {
	Key    string
	Reason string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("malformed settings: key %q %s", e.Key, e.Reason)
}

type settingsJSON struct {
	LLM        string                `json:"llm"`
	LLMs       map[string]llm.Params `json:"llms"`
	Embedding  string                `json:"embedding"`
	Embeddings map[string]llm.Params `json:"embeddings"`
}

// ParseSettings validates and decodes a raw settings payload. Provider
// existence is checked later at resolution; this only enforces the payload
// structure.
func ParseSettings(raw []byte) (Settings, error) {
	var decoded settingsJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Settings{}, &SettingsError{Key: "settings", Reason: "is not valid JSON"}
	}

	if decoded.LLM == "" {
		return Settings{}, &SettingsError{Key: "llm", Reason: "is missing"}
	}
	llmParams, ok := decoded.LLMs[decoded.LLM]
	if !ok {
		return Settings{}, &SettingsError{Key: "llms." + decoded.LLM, Reason: "is missing"}
	}

	if decoded.Embedding == "" {
		return Settings{}, &SettingsError{Key: "embedding", Reason: "is missing"}
	}
	embeddingParams, ok := decoded.Embeddings[decoded.Embedding]
	if !ok {
		return Settings{}, &SettingsError{Key: "embeddings." + decoded.Embedding, Reason: "is missing"}
	}

	return Settings{
		LLMProvider:       decoded.LLM,
		LLMParams:         llmParams,
		EmbeddingProvider: decoded.Embedding,
		EmbeddingParams:   embeddingParams,
	}, nil
}
