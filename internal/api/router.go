package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the HTTP surface: the ops endpoints, a health check,
// and the Prometheus scrape handler supplied by the composition root.
func NewRouter(h *OpsHandler, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/ops", func(r chi.Router) {
		r.Get("/tasks", h.ActiveTasks)
		r.Get("/queue/{id}", h.QueueJob)
		r.Get("/metrics/snapshot", h.MetricsSnapshot)
		r.Post("/metrics/reset", h.ResetMetrics)
	})

	r.Method(http.MethodGet, "/metrics", metricsHandler)

	return r
}
