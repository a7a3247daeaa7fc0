package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/insurechat-vn/orchestrator/internal/agent"
	"github.com/insurechat-vn/orchestrator/internal/auth"
	"github.com/insurechat-vn/orchestrator/internal/config"
	"github.com/insurechat-vn/orchestrator/internal/documents"
	"github.com/insurechat-vn/orchestrator/internal/metrics"
	"github.com/insurechat-vn/orchestrator/internal/pipeline"
	"github.com/insurechat-vn/orchestrator/internal/server"
	"github.com/insurechat-vn/orchestrator/internal/storage"
	sqlitestore "github.com/insurechat-vn/orchestrator/internal/storage/sqlite"
	"github.com/insurechat-vn/orchestrator/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("insurechat-orchestrator", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	m := metrics.New()

	invoker := agent.NewClient(cfg.Agents.BaseURL,
		agent.WithTimeout(cfg.AgentTimeout()),
		agent.WithMetrics(m),
	)

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
	}

	var store *sqlitestore.Store
	if cfg.Storage.Type == "sqlite" {
		store, err = sqlitestore.New(cfg.Storage.SQLite.Path)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		defer store.Close()
		pipelineOpts = append(pipelineOpts, pipeline.WithRecorder(store))
		logger.Info("storage enabled", slog.String("path", cfg.Storage.SQLite.Path))
	}

	var docs *documents.Client
	if cfg.Documents.BaseURL != "" {
		docs = documents.NewClient(cfg.Documents.BaseURL, cfg.Documents.APIKey,
			documents.WithMaxUploadBytes(cfg.Documents.MaxUploadBytes),
		)
	}

	var authenticator *auth.Authenticator
	if len(cfg.Auth.APIKeys) > 0 {
		authenticator = auth.NewAuthenticator(cfg.Auth.APIKeys)
	}

	manager := pipeline.NewManager(invoker, pipelineOpts...)

	handler := server.NewHandler(manager, storeOrNil(store), docs, logger)
	srv := server.New(cfg.Server.Port, cfg.RequestTimeout(), logger, authenticator, handler, m)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("Orchestrator started",
		slog.Int("port", cfg.Server.Port),
		slog.String("agents", cfg.Agents.BaseURL),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping orchestrator...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Orchestrator shutdown complete")
}

// storeOrNil avoids handing the handler a non-nil interface wrapping a nil
// pointer.
func storeOrNil(s *sqlitestore.Store) storage.Store {
	if s == nil {
		return nil
	}
	return s
}
