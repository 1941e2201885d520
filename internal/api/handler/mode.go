package handler

import (
	"net/http"

	"github.com/Rrens/zyra/internal/api/response"
	"github.com/Rrens/zyra/internal/domain"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/Rrens/zyra/internal/service"
)

// ModeHandler reads and switches the store mode
type ModeHandler struct {
	store  *service.ChatStore
	router *llm.Router
}

// NewModeHandler creates a new mode handler
func NewModeHandler(store *service.ChatStore, router *llm.Router) *ModeHandler {
	return &ModeHandler{store: store, router: router}
}

type modeResponse struct {
	Mode  domain.Mode   `json:"mode"`
	Modes []domain.Mode `json:"modes"`
}

// Get returns the current mode and the available ones
func (h *ModeHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.OK(w, modeResponse{Mode: h.store.Mode(), Modes: h.router.Modes()})
}

// Set switches the mode
func (h *ModeHandler) Set(w http.ResponseWriter, r *http.Request) {
	var input domain.ModeUpdate
	if !decodeAndValidate(w, r, &input, false) {
		return
	}

	if err := h.store.SetMode(r.Context(), input.Mode); err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, modeResponse{Mode: h.store.Mode(), Modes: h.router.Modes()})
}
