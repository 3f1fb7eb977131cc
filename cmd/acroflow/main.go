package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/acroflow/acroflow/internal/api/fillagent"
	"github.com/acroflow/acroflow/internal/config"
	"github.com/acroflow/acroflow/internal/server"
	"github.com/acroflow/acroflow/internal/store"
	"github.com/acroflow/acroflow/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer("acroflow", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("ACROFLOW_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		log.Fatalf("Failed to create storage directory: %v", err)
	}
	snapshots, err := store.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open snapshot store: %v", err)
	}
	defer snapshots.Close()

	backendOpts := []fillagent.ClientOption{
		fillagent.WithBaseURL(cfg.Backend.BaseURL),
	}
	if cfg.Backend.Credential != "" {
		backendOpts = append(backendOpts, fillagent.WithCredential(cfg.Backend.Credential))
	}
	backend := fillagent.NewClient(backendOpts...)

	srv := server.New(cfg.Server.Port, logger, backend, snapshots)

	logger.Info("orchestrator starting",
		slog.String("backend", cfg.Backend.BaseURL),
		slog.String("storage", cfg.Storage.Path),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		log.Fatalf("Server failed: %v", err)
	case sig := <-sigChan:
		logger.Info("shutdown signal received, stopping orchestrator",
			slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited abnormally", slog.String("error", err.Error()))
	}

	logger.Info("orchestrator shutdown complete")
}
