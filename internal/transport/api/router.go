package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires all HTTP routes. The ingestion endpoint authenticates
// with device bearer tokens inside its handler; everything operator-facing
// sits behind the optional admin key.
func NewRouter(h *Handler, adminKey string, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", h.Ingest)

		r.Group(func(r chi.Router) {
			r.Use(AdminKey(adminKey))

			r.Route("/vehicles/{vin}/telemetry", func(r chi.Router) {
				r.Get("/", h.TelemetryRange)
				r.Get("/latest", h.TelemetryLatest)
				r.Get("/export", h.TelemetryExport)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", h.ListDevices)
				r.Patch("/{deviceID}", h.UpdateDevice)
				r.Delete("/{deviceID}", h.DeleteDevice)
				r.Get("/{deviceID}/sessions", h.DeviceSessions)
				r.Post("/{deviceID}/token", h.IssueDeviceToken)
				r.Delete("/{deviceID}/token", h.RevokeDeviceToken)
			})

			r.Post("/tokens/global", h.IssueGlobalToken)

			r.Get("/mqtt/status", h.MQTTStatus)
			r.Post("/mqtt/restart", h.MQTTRestart)

			r.Post("/jobs/rollup", h.TriggerRollup)
		})
	})

	return r
}
