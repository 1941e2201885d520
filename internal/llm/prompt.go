package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/Rrens/zyra/internal/domain"
)

const titleMaxRunes = 60

// BuildMessages assembles the outgoing conversation: the system prompt, the
// last window messages of history, then the new user turn.
func BuildMessages(systemPrompt string, history []domain.Message, window int, newTurn string) []ChatMessage {
	if window >= 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: newTurn})

	return messages
}

// BuildTitleMessages creates the summarization request for a chat title
func BuildTitleMessages(instruction, seed string) []ChatMessage {
	return []ChatMessage{
		{Role: RoleSystem, Content: instruction},
		{Role: RoleUser, Content: seed},
	}
}

// CleanTitle strips quotes, a "Title:" prefix and trailing punctuation
// from a model-generated title
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) >= 6 && strings.EqualFold(title[:6], "title:") {
		title = title[6:]
	}
	title = strings.Trim(title, " \t\"'`*#")
	title = strings.TrimRight(title, ".!?:;,")
	title = strings.TrimSpace(title)

	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = strings.TrimSpace(string([]rune(title)[:titleMaxRunes]))
	}
	return title
}
