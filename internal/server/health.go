// Package server implements the health and metrics HTTP servers.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/telepipe/telepipe/internal/pipeline"
)

// HealthChecker reports pipeline health for the HTTP probes.
type HealthChecker interface {
	// Ready reports whether at least one route can still deliver records.
	Ready() bool

	// Routes reports per-route delivery health.
	Routes() []pipeline.RouteStatus
}

// HealthResponse is the body of both probe endpoints.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Routes    []pipeline.RouteStatus `json:"routes,omitempty"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes. The
// probe only fails when the process cannot respond at all, so a reachable
// server always reports alive.
func LivenessHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, logger, http.StatusOK, HealthResponse{
			Status:    "alive",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes. A
// pipeline with failed routes stays ready as long as one route still
// delivers; the response body names the failed routes.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes := checker.Routes()

		status := "ready"
		statusCode := http.StatusOK
		switch {
		case !checker.Ready():
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		case anyRouteFailed(routes):
			status = "degraded"
		}

		writeHealth(w, logger, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Routes:    routes,
		})
	}
}

func anyRouteFailed(routes []pipeline.RouteStatus) bool {
	for _, rt := range routes {
		if !rt.Healthy {
			return true
		}
	}
	return false
}

func writeHealth(w http.ResponseWriter, logger *zap.Logger, statusCode int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", zap.Error(err))
	}
}
