// Package main provides the entry point for the document processing service
// HTTP API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"

	"github.com/claimsight/document-processing-service/internal/claims"
	"github.com/claimsight/document-processing-service/internal/config"
	"github.com/claimsight/document-processing-service/internal/database"
	"github.com/claimsight/document-processing-service/internal/engine"
	"github.com/claimsight/document-processing-service/internal/observability"
	"github.com/claimsight/document-processing-service/internal/repository"
	"github.com/claimsight/document-processing-service/internal/server"
	"github.com/claimsight/document-processing-service/internal/storage"
	"github.com/claimsight/document-processing-service/internal/temporal"
	"github.com/claimsight/document-processing-service/internal/temporal/workflows"
	"github.com/claimsight/document-processing-service/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("document-processing-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Create repositories.
	docRepo := repository.NewPgDocumentRepository(db)
	docTypeRepo := repository.NewPgDocumentTypeRepository(db)
	engineRepo := repository.NewPgEngineRepository(db)
	validationRepo := repository.NewPgValidationRepository(db)
	auditRepo := repository.NewPgAuditRepository(db)

	// Create Temporal client.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	workflowClient := temporal.NewWorkflowClient(temporalClient, cfg.Temporal.TaskQueue)
	defer workflowClient.Close()

	// Create the blob store for uploaded documents. Falls back to an
	// in-memory store when no bucket is configured (local development).
	var blobStore storage.BlobStore
	if cfg.Storage.Bucket != "" {
		gcsStore, err := storage.NewGCSStore(ctx, cfg.Storage, logger)
		if err != nil {
			return fmt.Errorf("create blob store: %w", err)
		}
		blobStore = gcsStore
	} else {
		logger.Warn().Msg("no storage bucket configured, using in-memory blob store")
		blobStore = storage.NewMemoryStore()
	}
	defer func() {
		if closeErr := blobStore.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close blob store")
		}
	}()

	metrics := observability.NewMetrics("document_processing")

	// Engine router backs the /engines/health surface.
	router := engine.NewRouter(engineRepo, engine.RouterOptions{
		HealthCheckTimeout:         cfg.Engine.HealthCheckTimeout,
		DefaultTimeout:             cfg.Engine.DefaultTimeout,
		RateLimitRPS:               cfg.Engine.RateLimitRPS,
		RateLimitBurst:             cfg.Engine.RateLimitBurst,
		BreakerConsecutiveFailures: cfg.Engine.BreakerConsecutiveFailures,
		BreakerCooldown:            cfg.Engine.BreakerCooldown,
		FallbackAPIKey:             cfg.Engine.FallbackAPIKey,
		Prompts:                    engine.NewFilePrompts(cfg.Engine.PromptDir),
	}, metrics, logger)

	// Claims system client serves proposal application.
	claimsClient, err := claims.NewClient(claims.ClientConfig{
		BaseURL:   cfg.Claims.BaseURL,
		APIKey:    cfg.Claims.APIKey,
		Timeout:   cfg.Claims.Timeout,
		RateLimit: cfg.Claims.RateLimit,
		BurstSize: cfg.Claims.BurstSize,
	})
	if err != nil {
		return fmt.Errorf("create claims client: %w", err)
	}

	proposalService := validation.NewProposalService(validationRepo, claimsClient, auditRepo, logger)

	srv := server.NewServer(
		server.Config{
			Address:          cfg.Server.HTTPAddress(),
			ReadTimeout:      cfg.Server.ReadTimeout,
			WriteTimeout:     cfg.Server.WriteTimeout,
			IdleTimeout:      2 * time.Minute,
			ShutdownTimeout:  cfg.Server.ShutdownTimeout,
			MaxUploadBytes:   cfg.Storage.MaxUploadBytes,
			StorageKeyPrefix: cfg.Storage.KeyPrefix,
		},
		server.Dependencies{
			WorkflowClient:     workflowClient,
			PipelineWorkflow:   workflows.DocumentPipelineWorkflow,
			ValidationWorkflow: workflows.ValidationWorkflow,
			Documents:          docRepo,
			DocumentTypes:      docTypeRepo,
			Engines:            engineRepo,
			Validations:        validationRepo,
			Audit:              auditRepo,
			Blobs:              blobStore,
			Proposals:          proposalService,
			EngineHealth:       router,
			DB:                 db,
			Metrics:            metrics,
		},
		logger,
	)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	// Start HTTP API server in background.
	go func() {
		logger.Info().
			Str("address", cfg.Server.HTTPAddress()).
			Msg("HTTP API server starting")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", cfg.Server.HTTPAddress())
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("document-processing-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down document-processing-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("document-processing-service shutdown complete")
	return nil
}
