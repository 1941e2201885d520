package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type Provider struct {
	apiKey string
	model  string
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	return &Provider{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) AvailableModels() []string {
	return []string{
		"gemini-2.5-flash",
		"gemini-2.0-flash",
		"gemini-1.5-flash",
		"gemini-1.5-pro",
	}
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

// StreamChat opens a chat session and waits for the first chunk, so a
// rate-limit rejection surfaces here rather than mid-stream
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	client, cs, last, err := p.session(ctx, req)
	if err != nil {
		return nil, err
	}

	it := cs.SendMessageStream(ctx, genai.Text(last))
	first, err := it.Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		client.Close()
		return nil, mapError(err)
	}

	return &stream{
		client:  client,
		it:      it,
		pending: first,
		done:    errors.Is(err, iterator.Done),
	}, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	client, cs, last, err := p.session(ctx, req)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	start := time.Now()
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, mapError(err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("empty response from gemini")
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &llm.Response{
		Content:    text,
		Model:      p.modelFor(req),
		TokensUsed: tokensUsed,
		LatencyMs:  latency,
	}, nil
}

func (p *Provider) modelFor(req llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.DefaultModel()
}

// session builds a client and chat session whose history holds every turn
// but the last user message, which is returned separately
func (p *Provider) session(ctx context.Context, req llm.ChatRequest) (*genai.Client, *genai.ChatSession, string, error) {
	if !p.IsConfigured() {
		return nil, nil, "", fmt.Errorf("gemini provider is not configured (missing API key)")
	}

	system, history, last := splitMessages(req.Messages)

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(p.modelFor(req))
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	cs.History = history

	return client, cs, last, nil
}

// splitMessages maps chat turns to gemini contents. Assistant turns use the
// "model" role and system turns become the system instruction.
func splitMessages(messages []llm.ChatMessage) (string, []*genai.Content, string) {
	var system []string
	var turns []llm.ChatMessage
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	var last string
	if n := len(turns); n > 0 && turns[n-1].Role == llm.RoleUser {
		last = turns[n-1].Content
		turns = turns[:n-1]
	}

	history := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	return strings.Join(system, "\n\n"), history, last
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

// mapError converts google API errors into llm.APIError so rate limits
// are recognized by the retry policy
func mapError(err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return fmt.Errorf("gemini generation error: %w", err)
	}

	apiErr := &llm.APIError{
		Provider:   "gemini",
		StatusCode: gErr.Code,
		Message:    gErr.Message,
	}
	if gErr.Code == http.StatusTooManyRequests {
		apiErr.ResetSeconds, apiErr.HasReset = llm.ParseResetSeconds(gErr.Header, time.Now())
	}
	return apiErr
}

type stream struct {
	client  *genai.Client
	it      *genai.GenerateContentResponseIterator
	pending *genai.GenerateContentResponse
	done    bool
}

func (s *stream) Recv() (string, error) {
	for {
		if s.pending != nil {
			resp := s.pending
			s.pending = nil
			if text := responseText(resp); text != "" {
				return text, nil
			}
			continue
		}
		if s.done {
			return "", io.EOF
		}

		resp, err := s.it.Next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			continue
		}
		if err != nil {
			s.done = true
			return "", mapError(err)
		}
		s.pending = resp
	}
}

func (s *stream) Close() error {
	s.done = true
	s.pending = nil
	return s.client.Close()
}
