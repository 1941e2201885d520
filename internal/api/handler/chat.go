package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/Rrens/zyra/internal/api/response"
	"github.com/Rrens/zyra/internal/domain"
	"github.com/Rrens/zyra/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const errStreaming = "a response is already streaming"

// ChatHandler exposes the chat store over HTTP
type ChatHandler struct {
	store *service.ChatStore
}

// NewChatHandler creates a new chat handler
func NewChatHandler(store *service.ChatStore) *ChatHandler {
	return &ChatHandler{store: store}
}

type chatListResponse struct {
	Chats        []domain.Chat  `json:"chats"`
	ActiveChatID string         `json:"active_chat_id"`
	Mode         domain.Mode    `json:"mode"`
	Status       service.Status `json:"status"`
}

// List returns every chat, most recent first
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	response.OK(w, chatListResponse{
		Chats:        h.store.Chats(),
		ActiveChatID: h.store.ActiveChatID(),
		Mode:         h.store.Mode(),
		Status:       h.store.Status(),
	})
}

// Create creates a new chat and makes it active
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input domain.ChatCreate
	if !decodeAndValidate(w, r, &input, true) {
		return
	}

	id := h.store.CreateChat(r.Context(), input.Text)
	h.writeChat(w, http.StatusCreated, id)
}

// Get returns one chat
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeChat(w, http.StatusOK, chi.URLParam(r, "chatID"))
}

// Rename sets a chat title
func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if !h.exists(w, chatID) {
		return
	}

	var input domain.ChatRename
	if !decodeAndValidate(w, r, &input, false) {
		return
	}

	h.store.RenameChat(r.Context(), chatID, input.Title)
	h.writeChat(w, http.StatusOK, chatID)
}

// TogglePin flips a chat's pinned flag
func (h *ChatHandler) TogglePin(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if !h.exists(w, chatID) {
		return
	}

	h.store.TogglePin(r.Context(), chatID)
	h.writeChat(w, http.StatusOK, chatID)
}

// Delete removes a chat
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if !h.exists(w, chatID) {
		return
	}

	h.store.DeleteChat(r.Context(), chatID)
	response.OK(w, map[string]string{"message": "chat deleted"})
}

// SetActive selects the chat new messages go to
func (h *ChatHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var input domain.ActiveChatUpdate
	if !decodeAndValidate(w, r, &input, false) {
		return
	}

	if err := h.store.SetActiveChat(r.Context(), input.ChatID); err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, map[string]string{"active_chat_id": input.ChatID})
}

// UpdateMessage replaces a message's content
func (h *ChatHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	messageID := chi.URLParam(r, "messageID")

	chat, ok := h.store.Chat(chatID)
	if !ok {
		response.FromError(w, domain.ErrChatNotFound)
		return
	}
	if chat.MessageIndex(messageID) < 0 {
		response.FromError(w, domain.ErrMessageNotFound)
		return
	}

	var input domain.MessageUpdate
	if !decodeAndValidate(w, r, &input, false) {
		return
	}

	h.store.UpdateMessage(r.Context(), chatID, messageID, input.Content)
	h.writeChat(w, http.StatusOK, chatID)
}

// Send appends a user turn to the active chat and runs a response cycle.
// With ?async=true it returns 202 once the turn is stored; progress is
// observable on the event feed.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var input domain.SendRequest
	if !decodeAndValidate(w, r, &input, false) {
		return
	}
	if strings.TrimSpace(input.Text) == "" {
		response.BadRequest(w, map[string]string{"text": "must not be blank"})
		return
	}

	// The cycle outlives a disconnecting client
	ctx := context.WithoutCancel(r.Context())

	if r.URL.Query().Get("async") == "true" {
		chatID, started := h.store.SendMessageAsync(ctx, input.Text)
		if !started {
			response.Conflict(w, errStreaming)
			return
		}
		response.Accepted(w, map[string]string{"message": "message accepted", "chat_id": chatID})
		return
	}

	chatID, started := h.store.SendMessage(ctx, input.Text)
	if !started {
		response.Conflict(w, errStreaming)
		return
	}
	h.writeChat(w, http.StatusOK, chatID)
}

// Regenerate replays the last user turn of a chat
func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	chat, ok := h.store.Chat(chatID)
	if !ok {
		response.FromError(w, domain.ErrChatNotFound)
		return
	}
	if chat.LastUserIndex() < 0 {
		response.BadRequest(w, "chat has no user message to regenerate")
		return
	}

	ctx := context.WithoutCancel(r.Context())

	regenerate := h.store.RegenerateMessage
	if r.URL.Query().Get("async") == "true" {
		regenerate = h.store.RegenerateMessageAsync
	}
	if !regenerate(ctx, chatID) {
		if !h.exists(w, chatID) {
			return
		}
		response.Conflict(w, errStreaming)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		response.Accepted(w, map[string]string{"message": "regeneration accepted"})
		return
	}
	h.writeChat(w, http.StatusOK, chatID)
}

// Status returns the transient streaming state
func (h *ChatHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.store.Status())
}

func (h *ChatHandler) exists(w http.ResponseWriter, chatID string) bool {
	if _, ok := h.store.Chat(chatID); !ok {
		response.FromError(w, domain.ErrChatNotFound)
		return false
	}
	return true
}

func (h *ChatHandler) writeChat(w http.ResponseWriter, status int, chatID string) {
	chat, ok := h.store.Chat(chatID)
	if !ok {
		// Deleted concurrently
		log.Warn().Str("chat_id", chatID).Msg("Chat vanished before response")
		response.FromError(w, domain.ErrChatNotFound)
		return
	}
	response.JSON(w, status, chat)
}
