// Package web hosts the HTTP API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/analyze"
	"github.com/facesentry/facesentry/internal/livescan"
	"github.com/facesentry/facesentry/internal/recognition"
	"github.com/facesentry/facesentry/internal/storage"
	"github.com/facesentry/facesentry/internal/web/handlers"
	"github.com/facesentry/facesentry/internal/web/middleware"
)

// Deps bundles everything the API serves. Capture, sink, and directory may
// be nil; the affected endpoints degrade instead of failing to boot.
type Deps struct {
	Store     *recognition.Store
	Engine    *livescan.Engine
	Analyzer  *analyze.Analyzer
	Capture   handlers.CaptureController
	Sink      storage.RecordSink
	Directory storage.IdentityDirectory
	Log       zerolog.Logger
}

// Server represents the web server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer creates a new web server.
func NewServer(host string, port int, deps Deps) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		log:    deps.Log.With().Str("component", "web").Logger(),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS())

	s.setupRoutes(deps)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long timeout for the MJPEG stream and uploads
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
