package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	mw "github.com/cvdhost/cvdd/lib/middleware"
)

// NewRouter builds the chi router cvdd's Unix-socket listener serves: a
// single POST /v1/command route behind the same request-id/real-ip/recover/
// logger/access-log/metrics middleware chain the teacher's HTTP API uses,
// minus the OpenAPI request-validation and JWT layers this daemon has no
// counterpart for (no generated spec, no authentication Non-goal).
func NewRouter(s *Service, log *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(mw.InjectLogger(log))
	r.Use(mw.AccessLogger(log))

	if s.Otel != nil && s.Otel.Meter != nil {
		if httpMetrics, err := mw.NewHTTPMetrics(s.Otel.Meter); err == nil {
			r.Use(httpMetrics.Middleware)
		} else {
			log.Warn("failed to initialize http metrics, continuing without them", "error", err)
		}
	}

	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/v1/command", s.HandleCommand)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
