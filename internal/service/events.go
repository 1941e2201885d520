package service

// EventType identifies what changed in the store
type EventType string

const (
	EventChatCreated    EventType = "chat_created"
	EventChatUpdated    EventType = "chat_updated"
	EventChatDeleted    EventType = "chat_deleted"
	EventMessageAdded   EventType = "message_added"
	EventMessageUpdated EventType = "message_updated"
	EventActiveChanged  EventType = "active_changed"
	EventModeChanged    EventType = "mode_changed"
	EventStatusChanged  EventType = "status_changed"
)

// Status is the transient, never persisted, state of the store
type Status struct {
	IsTyping bool `json:"isTyping"`
	// RateLimitWait is the upstream reset hint in seconds while a
	// rate-limited request is being retried
	RateLimitWait *int `json:"rateLimitWait"`
}

// Event is delivered to observers after each mutation
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chatId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Status    Status    `json:"status"`
}

// Observer receives store events on the mutating goroutine, outside the
// store lock. It must not block.
type Observer func(Event)
