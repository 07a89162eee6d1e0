package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type AIHandlers struct {
	Chat   stdhttp.HandlerFunc
	Cancel stdhttp.HandlerFunc
}

func registerAIRoutes(api chi.Router, handlers AIHandlers) {
	api.Post("/ai/chat", mustHandler("ai-chat", handlers.Chat))
	api.Post("/ai/cancel", mustHandler("ai-cancel", handlers.Cancel))
}
