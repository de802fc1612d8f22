package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)
	r.Handle("/metrics", promhttp.Handler())

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Users
		r.Route("/users", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.HandleGetCurrentUser)
			r.With(s.adminMiddleware).Post("/", s.HandleCreateUser)
		})

		// LPR devices
		r.Route("/lprs", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListLPRs)
			r.Get("/status", s.HandleDeviceStatuses)
			r.With(s.adminMiddleware).Post("/", s.HandleCreateLPR)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetLPR)
				r.Group(func(r chi.Router) {
					r.Use(s.adminMiddleware)
					r.Put("/", s.HandleUpdateLPR)
					r.Delete("/", s.HandleDeleteLPR)
					r.Post("/activate", s.HandleActivateLPR)
					r.Post("/deactivate", s.HandleDeactivateLPR)
					r.Post("/command", s.HandleSendCommand)
				})
				r.Get("/cameras", s.HandleListCameras)
			})
		})

		// Plate detections
		r.Route("/traffic", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListTraffic)
		})

		// Recordings
		r.Route("/records", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListRecords)
		})
	})
}
