// Package httpapi composes the transport surface: middleware chain, health
// and metrics endpoints, and the authenticated attendance and stream routes.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bioattend/internal/attendance/handler"
	"bioattend/internal/platform/middleware"
	"bioattend/internal/stream"
)

// NewRouter wires all endpoints. The attendance and stream handlers sit
// behind JWT auth; health and metrics stay open for probes and scrapers.
func NewRouter(
	attendance *handler.Handler,
	streams *stream.Handler,
	validator *middleware.JWTValidator,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))
		attendance.Register(r)
		streams.Register(r)
	})

	return r
}
