// Package main provides the entry point for the document processing Temporal worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"

	"github.com/claimsight/document-processing-service/internal/claims"
	"github.com/claimsight/document-processing-service/internal/config"
	"github.com/claimsight/document-processing-service/internal/database"
	"github.com/claimsight/document-processing-service/internal/engine"
	"github.com/claimsight/document-processing-service/internal/events"
	"github.com/claimsight/document-processing-service/internal/observability"
	"github.com/claimsight/document-processing-service/internal/preprocess"
	"github.com/claimsight/document-processing-service/internal/repository"
	"github.com/claimsight/document-processing-service/internal/storage"
	"github.com/claimsight/document-processing-service/internal/temporal"
	"github.com/claimsight/document-processing-service/internal/temporal/activities"
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
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("document-processing-service worker starting")

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

	// Create repositories.
	docRepo := repository.NewPgDocumentRepository(db)
	docTypeRepo := repository.NewPgDocumentTypeRepository(db)
	engineRepo := repository.NewPgEngineRepository(db)
	validationRepo := repository.NewPgValidationRepository(db)
	auditRepo := repository.NewPgAuditRepository(db)

	// Create the blob store the pipeline reads uploaded documents from.
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

	// Engine router and capability scorer for the classify/extract stages.
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
	scorer := engine.NewScorer(engineRepo, logger)

	analyzer := preprocess.NewAnalyzer(logger)

	// Claims system client feeds the validation passes and proposal
	// application.
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

	upstream := validation.NewUpstreamValidator(claimsClient, validationRepo, auditRepo, logger)
	downstream := validation.NewDownstreamValidator(claimsClient, validationRepo, auditRepo, logger)

	// Lifecycle event publisher.
	var publisher events.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, metrics, logger)
		defer func() {
			if closeErr := kafkaPublisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close kafka publisher")
			}
		}()
		publisher = kafkaPublisher
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka event publisher created")
	} else {
		logger.Info().Msg("kafka disabled, lifecycle events will be discarded")
		publisher = events.NopPublisher{}
	}

	// Create Temporal client.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	// Create WorkerManager.
	workerConfig := temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue)
	manager, err := temporal.NewWorkerManager(temporalClient, workerConfig)
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}

	// Register workflows.
	manager.RegisterWorkflow(workflows.DocumentPipelineWorkflow)
	manager.RegisterWorkflow(workflows.ValidationWorkflow)

	// Create and register all activity structs.
	documentActivities := activities.NewDocumentActivities(
		docRepo,
		docTypeRepo,
		auditRepo,
		blobStore,
		analyzer,
		router,
		scorer,
		cfg.Pipeline,
		metrics,
	)
	validationActivities := activities.NewValidationActivities(docRepo, upstream, downstream, metrics)
	eventActivities := activities.NewEventActivities(publisher, metrics)

	manager.RegisterActivity(documentActivities)
	manager.RegisterActivity(validationActivities)
	manager.RegisterActivity(eventActivities)

	logger.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Msg("starting temporal worker")

	// Start the worker and block until context is cancelled.
	if err := manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}

	return nil
}
