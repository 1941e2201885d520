package domain

import "github.com/google/uuid"

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single turn inside a chat.
// Content is mutable: it is edited in place and grows while a reply streams.
type Message struct {
	ID      string      `json:"id"`
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// NewMessage creates a message with a fresh identifier
func NewMessage(role MessageRole, content string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
	}
}

// MessageUpdate represents a message edit request
type MessageUpdate struct {
	Content string `json:"content" validate:"required,max=32000"`
}

// SendRequest represents a new user turn
type SendRequest struct {
	Text string `json:"text" validate:"required,max=32000"`
}
