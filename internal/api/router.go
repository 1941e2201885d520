package api

import (
	"net/http"

	"github.com/Rrens/zyra/internal/api/handler"
	customMiddleware "github.com/Rrens/zyra/internal/api/middleware"
	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/Rrens/zyra/internal/security"
	"github.com/Rrens/zyra/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// Dependencies are the components the HTTP API is built over. JWT and
// RateLimiter are optional; nil disables the matching middleware.
type Dependencies struct {
	Store       *service.ChatStore
	LLM         *llm.Router
	Storage     handler.Pinger
	PastExams   handler.QuestionSource
	JWT         *security.JWTManager
	RateLimiter customMiddleware.Limiter
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	chatHandler := handler.NewChatHandler(deps.Store)
	modeHandler := handler.NewModeHandler(deps.Store, deps.LLM)
	eventsHandler := handler.NewEventsHandler(deps.Store)
	pastExamHandler := handler.NewPastExamHandler(deps.PastExams)

	protect := func(r chi.Router) {
		if deps.JWT != nil {
			r.Use(customMiddleware.NewAuthMiddleware(deps.JWT).Authenticate)
		}
		if deps.RateLimiter != nil {
			r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
		}
	}

	if deps.JWT == nil {
		log.Warn().Msg("auth.jwt_secret is empty, API is unauthenticated")
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Storage))

		// Long-lived event feed, exempt from the request timeout
		r.Group(func(r chi.Router) {
			protect(r)
			r.Get("/events", eventsHandler.Stream)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			protect(r)
			if cfg.Server.MiddlewareTimeout > 0 {
				r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))
			}

			r.Get("/llm-providers", handler.ListLLMProviders(deps.LLM))
			r.Get("/status", chatHandler.Status)

			r.Get("/mode", modeHandler.Get)
			r.Put("/mode", modeHandler.Set)

			r.Put("/active-chat", chatHandler.SetActive)
			r.Post("/messages", chatHandler.Send)

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", chatHandler.List)
				r.Post("/", chatHandler.Create)

				r.Route("/{chatID}", func(r chi.Router) {
					r.Get("/", chatHandler.Get)
					r.Patch("/", chatHandler.Rename)
					r.Delete("/", chatHandler.Delete)
					r.Post("/pin", chatHandler.TogglePin)
					r.Post("/regenerate", chatHandler.Regenerate)
					r.Patch("/messages/{messageID}", chatHandler.UpdateMessage)
				})
			})

			r.Get("/past-exams", pastExamHandler.List)
		})
	})

	return r
}
