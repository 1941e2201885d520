package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
	// The messages API requires max_tokens
	fallbackMaxTokens = 1024
)

// Provider implements llm.Provider for Anthropic
type Provider struct {
	apiKey       string
	defaultModel string
	client       *http.Client
	streamClient *http.Client
	baseURL      string
}

// NewProvider creates a new Anthropic provider
func NewProvider(apiKey, defaultModel string) *Provider {
	if defaultModel == "" {
		defaultModel = "claude-3-5-haiku-20241022"
	}
	return &Provider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		streamClient: &http.Client{},
		baseURL:      defaultBaseURL,
	}
}

// WithBaseURL returns the provider pointed at another endpoint
func (p *Provider) WithBaseURL(baseURL string) *Provider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "anthropic"
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-haiku-20240307",
	}
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// streamEvent covers the event payloads a messages stream can carry
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseStreamEvent extracts text from content_block_delta events and ends
// the stream on message_stop
func ParseStreamEvent(payload []byte) (string, bool, error) {
	var ev streamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", false, llm.ErrMalformedChunk
	}

	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" {
			return ev.Delta.Text, false, nil
		}
	case "message_stop":
		return "", true, nil
	case "error":
		msg := "anthropic stream error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return "", true, errors.New(msg)
	}
	return "", false, nil
}

// StreamChat starts a streaming message request
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	resp, err := p.do(ctx, p.streamClient, req, true)
	if err != nil {
		return nil, err
	}
	return llm.NewDecoder(resp.Body, llm.FramingSSE, ParseStreamEvent), nil
}

// Complete runs a non-streaming message request
func (p *Provider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	start := time.Now()

	resp, err := p.do(ctx, p.client, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(anthropicResp.Content) == 0 {
		return nil, fmt.Errorf("no response from Anthropic")
	}

	var text strings.Builder
	for _, c := range anthropicResp.Content {
		text.WriteString(c.Text)
	}

	return &llm.Response{
		Content:    text.String(),
		Model:      anthropicResp.Model,
		TokensUsed: anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (p *Provider) do(ctx context.Context, client *http.Client, req llm.ChatRequest, stream bool) (*http.Response, error) {
	anthropicReq := toAnthropicRequest(req, p.defaultModel)
	anthropicReq.Stream = stream

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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

// toAnthropicRequest lifts system turns into the top-level system field
func toAnthropicRequest(req llm.ChatRequest, defaultModel string) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.Model == "" {
		out.Model = defaultModel
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = fallbackMaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	out.System = strings.Join(system, "\n\n")

	return out
}
