package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruochenliao/ai-training-course-sub000/internal/metrics"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	if g.config.PromRegistry != nil {
		r.Handle("/metrics", metrics.Handler(g.config.PromRegistry))
	}

	r.Group(func(r chi.Router) {
		if g.config.BearerToken != "" {
			r.Use(authMiddleware(g.config.BearerToken))
		}
		r.Route("/api", func(r chi.Router) {
			r.Post("/query", g.handleQuery())
			r.Post("/context", g.handleUpdateContext())
			r.Post("/memory", g.handleAddMemory())
			r.Delete("/memory", g.handleClearMemory())

			r.Post("/bases", g.handleCreateBase())
			r.Get("/bases/{id}", g.handleGetBase())
			r.Delete("/bases/{id}", g.handleDeleteBase())
			r.Get("/bases/{id}/files", g.handleListFiles())
			r.Post("/bases/{id}/files", g.handleCreateFile())

			r.Get("/files/{id}", g.handleGetFile())
			r.Delete("/files/{id}", g.handleDeleteFile())
			r.Post("/files/{id}/process", g.handleProcessFile())
			r.Post("/files/{id}/retry", g.handleRetryFile())
		})
	})

	return r
}
