package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type ConfigHandlers struct {
	GetConfig  stdhttp.HandlerFunc
	SaveConfig stdhttp.HandlerFunc
}

func registerConfigRoutes(api chi.Router, handlers ConfigHandlers) {
	api.Get("/config", mustHandler("get-config", handlers.GetConfig))
	api.Post("/config", mustHandler("save-config", handlers.SaveConfig))
}
