package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/zyra/internal/llm"
)

// Provider implements llm.Provider for Ollama
type Provider struct {
	host         string
	defaultModel string
	client       *http.Client
	streamClient *http.Client
}

// NewProvider creates a new Ollama provider
func NewProvider(host, defaultModel string) *Provider {
	if defaultModel == "" {
		defaultModel = "llama3.1"
	}
	return &Provider{
		host:         strings.TrimRight(host, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 300 * time.Second},
		streamClient: &http.Client{},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return []string{
		"llama3",
		"llama3.1",
		"llama3.2",
		"mistral",
		"mixtral",
		"phi3",
		"qwen2",
		"gemma2",
	}
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model     string        `json:"model"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count"`
	Error     string        `json:"error"`
}

// ParseChatLine decodes one NDJSON line of a streamed /api/chat response
func ParseChatLine(payload []byte) (string, bool, error) {
	var line ollamaResponse
	if err := json.Unmarshal(payload, &line); err != nil {
		return "", false, llm.ErrMalformedChunk
	}
	if line.Error != "" {
		return "", true, errors.New(line.Error)
	}
	return line.Message.Content, line.Done, nil
}

// StreamChat starts a streaming chat request
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	resp, err := p.do(ctx, p.streamClient, req, true)
	if err != nil {
		return nil, err
	}
	return llm.NewDecoder(resp.Body, llm.FramingNDJSON, ParseChatLine), nil
}

// Complete runs a non-streaming chat request
func (p *Provider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	start := time.Now()

	resp, err := p.do(ctx, p.client, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if ollamaResp.Error != "" {
		return nil, errors.New(ollamaResp.Error)
	}

	return &llm.Response{
		Content:    ollamaResp.Message.Content,
		Model:      ollamaResp.Model,
		TokensUsed: ollamaResp.EvalCount,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (p *Provider) do(ctx context.Context, client *http.Client, req llm.ChatRequest, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	ollamaReq := ollamaRequest{
		Model:    model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)),
		Stream:   stream,
		Options:  options,
	}
	for _, m := range req.Messages {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, llm.NewAPIError(p.Name(), resp)
	}

	return resp, nil
}
