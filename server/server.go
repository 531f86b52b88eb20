// Package server exposes the docusense service over HTTP: a chi router
// with the collection, ingestion, query and feedback endpoints plus
// health and metrics.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docusense/docusense"
)

// Config carries the HTTP-layer settings.
type Config struct {
	// CORSOrigin is the browser origin allowed to call the API. Empty
	// disables the CORS headers.
	CORSOrigin string
}

// New assembles the router around the service.
func New(svc docusense.Service, cfg Config) http.Handler {
	h := &handler{service: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.CORSOrigin))

	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/collections", h.handleCreateCollection)
		r.Get("/collections", h.handleListCollections)
		r.Get("/collections/{id}", h.handleGetCollection)

		r.Route("/ingest", func(r chi.Router) {
			r.Post("/upload", h.handleUpload)
			r.Post("/url", h.handleIngestURL)
			r.Get("/status/{job_id}", h.handleJobStatus)
		})

		r.Post("/ask", h.handleAsk)
		r.Post("/feedback/{query_id}", h.handleFeedback)
		r.Get("/metrics", h.handleMetrics)
	})

	return r
}
