package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	// This blank import is required by swaggo to find the API definitions.
	_ "ollama-chat/docs"
)

// Handlers groups everything NewRouter mounts.
type Handlers struct {
	Chat     *ChatHandler
	Settings *SettingsHandler
	Models   *ModelHandler
	Status   *StatusHandler
}

// NewRouter creates and configures a new chi router with all the application's routes.
//
// @title        ollama-chat API
// @version      1.0
// @description  Local bridge to the ollama-chat session engine.
// @BasePath     /api
func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Serves the Swagger UI for the bridge.
	r.Get("/api/swagger/*", httpSwagger.WrapHandler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {

		// Plain JSON routes get a request timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			// --- Active chat ---
			r.Get("/chat", h.Chat.GetChat)
			r.Post("/chat/messages", h.Chat.SendMessage)
			r.Post("/chat/cancel", h.Chat.Cancel)
			r.Post("/chat/new", h.Chat.NewChat)

			// --- Saved chats ---
			r.Get("/chats", h.Chat.ListChats)
			r.Post("/chats/{chatID}/load", h.Chat.LoadChat)

			// --- Settings ---
			r.Get("/settings", h.Settings.GetSettings)
			r.Put("/settings", h.Settings.UpdateSettings)

			// --- Models & status ---
			r.Get("/models", h.Models.HandleListModels)
			r.Get("/status", h.Status.GetStatus)
			r.Post("/status/check", h.Status.CheckStatus)
		})

		// Streaming routes hold the connection open and must not time out.
		r.Group(func(r chi.Router) {
			r.Get("/chat/events", h.Chat.StreamEvents)
			r.Post("/models/pull", h.Models.HandlePullModel)
		})
	})

	return r
}
