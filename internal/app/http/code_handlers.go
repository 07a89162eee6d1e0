package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type CodeHandlers struct {
	Run      stdhttp.HandlerFunc
	ListRuns stdhttp.HandlerFunc
	GetRun   stdhttp.HandlerFunc
	KillRun  stdhttp.HandlerFunc
}

func registerCodeRoutes(api chi.Router, handlers CodeHandlers) {
	api.Route("/code", func(r chi.Router) {
		r.Post("/run", mustHandler("run-code", handlers.Run))
		r.Get("/runs", mustHandler("list-runs", handlers.ListRuns))
		r.Get("/runs/{run_id}", mustHandler("get-run", handlers.GetRun))
		r.Post("/runs/{run_id}/kill", mustHandler("kill-run", handlers.KillRun))
	})
}
