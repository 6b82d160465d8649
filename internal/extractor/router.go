package extractor

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter creates a chi router with the extraction api. Paths are relative
// to the mount point.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	// basic cors
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS", "DELETE"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Post("/extractions", handler.StartExtraction)
	r.Get("/extractions/{user_id}", handler.Status)
	r.Delete("/extractions/{user_id}", handler.CancelExtraction)

	r.Get("/jobs/{user_id}", handler.ListJobs)

	r.Post("/downloads", handler.StartDownload)
	r.Put("/sessions/{user_id}", handler.ImportSession)
	r.Delete("/sessions/{user_id}", handler.ReleaseSession)

	r.Get("/settings/{user_id}", handler.GetSettings)
	r.Put("/settings/{user_id}", handler.UpdateSettings)
	r.Put("/users/{user_id}/premium", handler.SetPremium)

	r.Get("/stats", handler.GetStats)

	return r
}
