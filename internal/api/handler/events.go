package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Rrens/zyra/internal/api/response"
	"github.com/Rrens/zyra/internal/service"
	"github.com/rs/zerolog/log"
)

const (
	eventBuffer       = 256
	heartbeatInterval = 15 * time.Second
)

// EventsHandler streams store events as server-sent events
type EventsHandler struct {
	store     *service.ChatStore
	heartbeat time.Duration
}

// NewEventsHandler creates a new event feed handler
func NewEventsHandler(store *service.ChatStore) *EventsHandler {
	return &EventsHandler{store: store, heartbeat: heartbeatInterval}
}

// Stream writes one SSE frame per store event until the client goes away.
// Slow clients lose events rather than stall the store.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming unsupported")
		return
	}

	events := make(chan service.Event, eventBuffer)
	cancel := h.store.Subscribe(func(ev service.Event) {
		select {
		case events <- ev:
		default:
			log.Warn().Str("type", string(ev.Type)).Msg("Event feed client too slow, dropping event")
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Current state first so a reconnecting client can resync
	if err := writeEvent(w, service.Event{Type: service.EventStatusChanged, ChatID: h.store.ActiveChatID(), Status: h.store.Status()}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				log.Debug().Err(err).Msg("Event feed write failed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev service.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
