package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the HTTP router with all API endpoints. metrics may
// be nil, in which case /metrics is not mounted.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Mount("/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/encoders", h.Encoders)

		r.Route("/jobs", func(r chi.Router) {
			// The event stream is long-lived; only plain requests get a timeout
			r.Get("/stream", h.JobStream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Get("/", h.ListJobs)
				r.Post("/", h.CreateJob)
				r.Get("/{id}", h.GetJob)
				r.Delete("/{id}", h.DeleteJob)
				r.Post("/{id}/start", h.StartJob)
				r.Post("/{id}/stop", h.StopJob)
			})
		})
	})

	return r
}
