package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/zyra/internal/api/response"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/rs/zerolog/log"
)

// Pinger reports backend connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including storage connectivity
func ReadyCheck(storage Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := storage.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Storage not ready")
			response.Error(w, http.StatusServiceUnavailable, "storage not ready")
			return
		}

		response.OK(w, map[string]string{
			"status": "ready",
		})
	}
}

// ListLLMProviders returns registered LLM providers and mode presets
func ListLLMProviders(router *llm.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]any{
			"providers":        router.GetProvidersInfo(),
			"default_provider": router.DefaultProvider(),
			"modes":            router.Modes(),
		})
	}
}
