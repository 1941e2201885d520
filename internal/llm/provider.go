package llm

import "context"

// Message roles understood by every provider
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of the outgoing conversation
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest contains completion parameters
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// Response contains a non-streaming completion result
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// Stream is a lazy, finite, non-restartable sequence of text deltas.
// Recv returns io.EOF once the upstream sentinel or end of body is reached.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// AvailableModels returns list of supported models
	AvailableModels() []string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// StreamChat issues a single streaming completion request. A non-OK
	// upstream status is returned as *APIError before any delta is read.
	StreamChat(ctx context.Context, req ChatRequest) (Stream, error)

	// Complete issues a single non-streaming completion request
	Complete(ctx context.Context, req ChatRequest) (*Response, error)
}
