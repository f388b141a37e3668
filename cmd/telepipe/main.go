package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/telepipe/telepipe/internal/config"
	"github.com/telepipe/telepipe/internal/observability"
	"github.com/telepipe/telepipe/internal/pipeline"
	"github.com/telepipe/telepipe/internal/server"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = "configs/telepipe.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting telepipe",
		zap.String("version", cfg.Application.Version),
		zap.String("environment", cfg.Application.Environment),
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	runner, err := pipeline.Build(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	httpServer := server.NewServer(server.Config{
		HealthPort:     cfg.Observability.Health.Port,
		LivenessPath:   cfg.Observability.Health.LivenessPath,
		ReadinessPath:  cfg.Observability.Health.ReadinessPath,
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
		MetricsPort:    cfg.Observability.Metrics.Port,
		MetricsPath:    cfg.Observability.Metrics.Path,
	}, runner, registry, logger)
	httpServer.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrChan := make(chan error, 1)
	go func() { runErrChan <- runner.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received termination signal", zap.String("signal", sig.String()))
		cancel()
		runErr = <-runErrChan
	case runErr = <-runErrChan:
		// The pipeline stopped on its own: sources exhausted or every
		// route failed.
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("pipeline failed: %w", runErr)
	}

	logger.Info("application stopped successfully")
	return nil
}
