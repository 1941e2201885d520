package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultChatTitle is used whenever a chat would otherwise have an empty title
	DefaultChatTitle = "New Chat"

	titleMaxRunes = 40
)

// Chat represents a conversation thread
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
	Mode      Mode      `json:"mode"`
	Pinned    bool      `json:"pinned"`
}

// NewChat allocates a chat whose title is derived from the seed text
func NewChat(initialText string, mode Mode, now time.Time) *Chat {
	return &Chat{
		ID:        uuid.NewString(),
		Title:     TitleFromText(initialText),
		Messages:  []Message{},
		UpdatedAt: now,
		Mode:      mode,
	}
}

// TitleFromText derives a chat title: the text as given, cut to 40 runes
// with "..." appended when longer, or DefaultChatTitle when blank.
func TitleFromText(text string) string {
	if strings.TrimSpace(text) == "" {
		return DefaultChatTitle
	}
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleMaxRunes]) + "..."
}

// NormalizeTitle enforces the non-empty title invariant
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultChatTitle
	}
	return title
}

// MessageIndex returns the position of a message, or -1
func (c *Chat) MessageIndex(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// LastMessage returns the trailing message, if any
func (c *Chat) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastUserIndex returns the position of the most recent user message, or -1
func (c *Chat) LastUserIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand outside the store
func (c *Chat) Clone() Chat {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// ChatCreate represents chat creation data
type ChatCreate struct {
	Text string `json:"text" validate:"omitempty,max=32000"`
}

// ChatRename represents a rename request
type ChatRename struct {
	Title string `json:"title" validate:"max=255"`
}

// ActiveChatUpdate selects the active chat; an empty id clears it
type ActiveChatUpdate struct {
	ChatID string `json:"chat_id" validate:"max=64"`
}
