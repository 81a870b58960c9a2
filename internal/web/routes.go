package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/facesentry/facesentry/internal/web/handlers"
)

func (s *Server) setupRoutes(deps Deps) {
	liveHandler := handlers.NewLiveHandler(deps.Engine, deps.Capture, deps.Log)
	uploadHandler := handlers.NewUploadHandler(deps.Analyzer, deps.Engine, deps.Log)
	systemHandler := handlers.NewSystemHandler(deps.Store, deps.Engine, deps.Sink, deps.Directory, deps.Log)

	s.router.Get("/api/v1/health", systemHandler.Health)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/dashboard", systemHandler.Dashboard)
		r.Post("/templates/reload", systemHandler.ReloadTemplates)

		r.Route("/live", func(r chi.Router) {
			r.Get("/status", liveHandler.Status)
			r.Post("/start", liveHandler.Start)
			r.Post("/stop", liveHandler.Stop)
			r.Post("/scan", liveHandler.Scan)
			r.Get("/stream", liveHandler.Stream)
		})

		r.Post("/upload", uploadHandler.Analyze)
	})
}
