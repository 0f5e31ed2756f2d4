package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"vectorflow/internal/api/handlers"
	"vectorflow/internal/config"
	"vectorflow/internal/core"
	"vectorflow/internal/core/ingestion"
	"vectorflow/internal/core/progress"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, dbc core.DbClient, archive core.ObjectClient, proc *ingestion.Processor, store *progress.Store, tracker *progress.Tracker, emb core.EmbeddingProvider) *Server {
	docHandler := handlers.NewDocumentHandler(dbc, archive, proc, store, cfg)
	streamHandler := handlers.NewStreamHandler(dbc, store, tracker)
	searchHandler := handlers.NewSearchHandler(dbc, emb)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Owner-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(60 * time.Second))
			timed.Post("/documents", docHandler.SubmitDocument)
			timed.Get("/documents", docHandler.ListDocuments)
			timed.Get("/documents/{documentID}/status", docHandler.GetStatus)
			timed.Delete("/documents/{documentID}", docHandler.DeleteDocument)
			timed.Post("/search", searchHandler.SearchChunks)
			timed.Get("/stats", searchHandler.GetStats)
		})

		// Long-lived SSE connection; must not run under the request timeout.
		api.Get("/documents/{documentID}/stream", streamHandler.StreamProgress)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
