package deepseek

import (
	"github.com/Rrens/zyra/internal/llm/openai"
)

const baseURL = "https://api.deepseek.com/v1"

// NewProvider creates a new DeepSeek provider. DeepSeek speaks the OpenAI
// chat completions protocol, including SSE streaming.
func NewProvider(apiKey, defaultModel string, opts ...openai.Option) *openai.Provider {
	if defaultModel == "" {
		defaultModel = "deepseek-chat"
	}
	opts = append([]openai.Option{openai.WithBaseURL(baseURL)}, opts...)
	return openai.NewCompatible("deepseek", apiKey, defaultModel, []string{
		"deepseek-chat",
		"deepseek-reasoner",
	}, opts...)
}
