package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/zyra/internal/llm"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements llm.Provider for OpenAI and OpenAI-compatible APIs
type Provider struct {
	name         string
	apiKey       string
	defaultModel string
	models       []string
	baseURL      string
	client       *http.Client
	streamClient *http.Client
}

// Option customizes a Provider
type Option func(*Provider)

// WithBaseURL points the provider at a different endpoint
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client used for both request kinds
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
		p.streamClient = c
	}
}

// NewProvider creates a new OpenAI provider
func NewProvider(apiKey, defaultModel string, opts ...Option) *Provider {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return NewCompatible("openai", apiKey, defaultModel, []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	}, opts...)
}

// NewCompatible creates a provider for any API speaking the OpenAI chat
// completions protocol
func NewCompatible(name, apiKey, defaultModel string, models []string, opts ...Option) *Provider {
	p := &Provider{
		name:         name,
		apiKey:       apiKey,
		defaultModel: defaultModel,
		models:       models,
		baseURL:      defaultBaseURL,
		client:       &http.Client{Timeout: 120 * time.Second},
		// Streams are bounded by the request context, not a client timeout
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return p.name
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return p.models
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// StreamChat starts a streaming chat completion
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	resp, err := p.do(ctx, p.streamClient, req, true)
	if err != nil {
		return nil, err
	}
	return llm.NewDecoder(resp.Body, llm.FramingSSE, llm.ParseChatCompletionChunk), nil
}

// Complete runs a non-streaming chat completion
func (p *Provider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	start := time.Now()

	resp, err := p.do(ctx, p.client, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", p.name)
	}

	model := chatResp.Model
	if model == "" {
		model = p.modelFor(req)
	}

	return &llm.Response{
		Content:    chatResp.Choices[0].Message.Content,
		Model:      model,
		TokensUsed: chatResp.Usage.TotalTokens,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// do posts the request and returns the response only when it is 200 OK
func (p *Provider) do(ctx context.Context, client *http.Client, req llm.ChatRequest, stream bool) (*http.Response, error) {
	chatReq := chatRequest{
		Model:       p.modelFor(req),
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, llm.NewAPIError(p.name, resp)
	}

	return resp, nil
}

func (p *Provider) modelFor(req llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}
