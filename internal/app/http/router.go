package transport

import (
	"fmt"
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"codepad/apps/editor/internal/metrics"
	"codepad/apps/editor/internal/observability"
)

type PublicHandlers struct {
	Version stdhttp.HandlerFunc
	Healthz stdhttp.HandlerFunc
}

type Handlers struct {
	Public PublicHandlers
	Config ConfigHandlers
	Files  FileHandlers
	AI     AIHandlers
	Code   CodeHandlers
	Events stdhttp.HandlerFunc
}

func NewRouter(handlers Handlers, webHandler stdhttp.HandlerFunc) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(observability.RequestID)
	r.Use(observability.Logging)
	r.Use(metrics.Middleware)
	r.Use(cors)
	r.Use(middleware.Recoverer)

	registerPublicRoutes(r, handlers.Public)
	r.Method(stdhttp.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		registerConfigRoutes(api, handlers.Config)
		registerFileRoutes(api, handlers.Files)
		registerAIRoutes(api, handlers.AI)
		registerCodeRoutes(api, handlers.Code)
		api.Get("/events", mustHandler("events", handlers.Events))
	})

	if webHandler != nil {
		r.Get("/*", webHandler)
	}

	return r
}

func registerPublicRoutes(r chi.Router, handlers PublicHandlers) {
	r.Get("/version", mustHandler("version", handlers.Version))
	r.Get("/healthz", mustHandler("healthz", handlers.Healthz))
}

func cors(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-Request-Id,X-Editor-Session")
		if r.Method == stdhttp.MethodOptions {
			w.WriteHeader(stdhttp.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func mustHandler(name string, handler stdhttp.HandlerFunc) stdhttp.HandlerFunc {
	if handler != nil {
		return handler
	}
	panic(fmt.Sprintf("transport router missing handler: %s", name))
}
