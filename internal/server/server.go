package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config sizes the health and metrics listeners.
type Config struct {
	HealthPort    int
	LivenessPath  string
	ReadinessPath string

	MetricsEnabled bool
	MetricsPort    int
	MetricsPath    string
}

// Server serves the health probes and, when enabled, the Prometheus
// metrics endpoint on a separate listener.
type Server struct {
	healthServer  *http.Server
	metricsServer *http.Server
	logger        *zap.Logger
}

// NewServer creates the HTTP servers. The metrics server is nil when
// metrics are disabled.
func NewServer(cfg Config, checker HealthChecker, registry *prometheus.Registry, logger *zap.Logger) *Server {
	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/health/live"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/health/ready"
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc(livenessPath, LivenessHandler(logger))
	healthMux.HandleFunc(readinessPath, ReadinessHandler(checker, logger))

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return &Server{
		healthServer:  healthServer,
		metricsServer: metricsServer,
		logger:        logger,
	}
}

// Start starts the listeners without blocking.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting health server", zap.String("addr", s.healthServer.Addr))
		if err := s.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", zap.Error(err))
		}
	}()

	if s.metricsServer == nil {
		return
	}
	go func() {
		s.logger.Info("starting metrics server", zap.String("addr", s.metricsServer.Addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Shutdown gracefully shuts down every listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	servers := []*http.Server{s.healthServer}
	if s.metricsServer != nil {
		servers = append(servers, s.metricsServer)
	}

	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			errChan <- srv.Shutdown(ctx)
		}(srv)
	}

	var lastErr error
	for range servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}
