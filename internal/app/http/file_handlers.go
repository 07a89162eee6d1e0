package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type FileHandlers struct {
	List           stdhttp.HandlerFunc
	Open           stdhttp.HandlerFunc
	Save           stdhttp.HandlerFunc
	New            stdhttp.HandlerFunc
	Delete         stdhttp.HandlerFunc
	Rename         stdhttp.HandlerFunc
	SaveTemp       stdhttp.HandlerFunc
	MarkModified   stdhttp.HandlerFunc
	OpenDirectory  stdhttp.HandlerFunc
	WorkspaceState stdhttp.HandlerFunc
}

func registerFileRoutes(api chi.Router, handlers FileHandlers) {
	api.Route("/file", func(r chi.Router) {
		r.Post("/list", mustHandler("list-files", handlers.List))
		r.Post("/open", mustHandler("open-file", handlers.Open))
		r.Post("/save", mustHandler("save-file", handlers.Save))
		r.Post("/new", mustHandler("new-file", handlers.New))
		r.Post("/delete", mustHandler("delete-file", handlers.Delete))
		r.Post("/rename", mustHandler("rename-file", handlers.Rename))
		r.Post("/save_temp", mustHandler("save-temp-file", handlers.SaveTemp))
		r.Post("/modified", mustHandler("mark-modified", handlers.MarkModified))
	})
	api.Post("/directory/open", mustHandler("open-directory", handlers.OpenDirectory))
	api.Get("/workspace/state", mustHandler("workspace-state", handlers.WorkspaceState))
}
