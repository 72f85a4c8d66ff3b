package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cinelock/seatlockd/internal/handlers"
	"github.com/cinelock/seatlockd/internal/health"
	"github.com/cinelock/seatlockd/internal/metrics"
	"github.com/cinelock/seatlockd/internal/middleware"
)

// setupAPIRoutes configures the API server routes.
func setupAPIRoutes(r *chi.Mux, logger *zap.Logger, lock *handlers.LockHandlers) {
	r.Get("/ping", handlePing(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/lock", lock.HandleLock)
		r.Post("/unlock", lock.HandleUnlock)
		r.Post("/extend", lock.HandleExtend)
		r.Get("/status", lock.HandleStatus)
		r.Post("/bookings/booked", lock.HandleMarkBooked)
		r.Post("/bookings/released", lock.HandleMarkReleased)
	})
}

// setupProbeRoutes configures the probe server routes.
func setupProbeRoutes(r *chi.Mux, logger *zap.Logger, m *metrics.Metrics, manager *health.Manager) {
	r.With(middleware.ProbeMetrics(m, "startup")).
		Get("/healthz/startup", handleStartup(logger, manager))
	r.With(middleware.ProbeMetrics(m, "live")).
		Get("/healthz/live", handleLiveness(logger, manager))
	r.With(middleware.ProbeMetrics(m, "ready")).
		Get("/healthz/ready", handleReadiness(logger, manager))
}

// handlePing handles the /ping endpoint.
func handlePing(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"status": "pong",
		}

		writeProbeJSON(w, http.StatusOK, response, logger)
	}
}

// handleStartup reports whether every component finished starting.
func handleStartup(logger *zap.Logger, manager *health.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetStartupStatus(r.Context())

		status := http.StatusOK
		if response.Status != health.StatusOK {
			status = http.StatusServiceUnavailable
		}

		writeProbeJSON(w, status, response, logger)
	}
}

// handleLiveness reports that the process is alive.
func handleLiveness(logger *zap.Logger, manager *health.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbeJSON(w, http.StatusOK, manager.GetLivenessStatus(), logger)
	}
}

// handleReadiness reports whether the instance should receive traffic.
func handleReadiness(logger *zap.Logger, manager *health.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetReadinessStatus(r.Context())

		status := http.StatusOK
		if !response.Ready {
			status = http.StatusServiceUnavailable
		}

		writeProbeJSON(w, status, response, logger)
	}
}

func writeProbeJSON(w http.ResponseWriter, status int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode probe response", zap.Error(err))
	}
}
