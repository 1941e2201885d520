package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/zyra/internal/api/response"
	"github.com/Rrens/zyra/internal/pastexam"
	"github.com/rs/zerolog/log"
)

// QuestionSource fetches past-exam questions
type QuestionSource interface {
	IsConfigured() bool
	Fetch(ctx context.Context, q pastexam.Query) ([]pastexam.Question, error)
}

// PastExamHandler proxies the past-exam question bank
type PastExamHandler struct {
	source QuestionSource
}

// NewPastExamHandler creates a new past-exam handler
func NewPastExamHandler(source QuestionSource) *PastExamHandler {
	return &PastExamHandler{source: source}
}

// List returns questions for ?subject=&year=&type=&limit=
func (h *PastExamHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.source.IsConfigured() {
		response.Error(w, http.StatusServiceUnavailable, "past exam source is not configured")
		return
	}

	params := r.URL.Query()
	q := pastexam.Query{
		Subject: params.Get("subject"),
		Year:    params.Get("year"),
		Type:    params.Get("type"),
		Limit:   pastexam.ParseLimit(params.Get("limit")),
	}
	if !validateStruct(w, q) {
		return
	}

	questions, err := h.source.Fetch(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("subject", q.Subject).Msg("Failed to fetch past exam questions")
		response.Error(w, http.StatusBadGateway, "failed to fetch questions")
		return
	}

	response.OK(w, map[string]any{
		"subject":   q.Subject,
		"count":     len(questions),
		"questions": questions,
	})
}
