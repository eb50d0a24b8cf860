// Package observability provides logging and metrics support for the
// document processing service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for pipeline stages, engines, and validation
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("document_id", docID).Msg("processing started")
//
// Add document context to logger:
//
//	logger = observability.WithDocumentContext(logger, documentID, status)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("document_processing")
//
// Record metrics:
//
//	metrics.DocumentsUploaded.Inc()
//	metrics.StagesCompleted.WithLabelValues("classify", "success").Inc()
//	metrics.EngineCalls.WithLabelValues("mistral-large", "extract", "rule").Inc()
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithDocumentID(ctx, documentID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	docID := observability.DocumentIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - document_id: Document identifier
//   - status: Document pipeline status
//   - stage: Pipeline stage (preprocess, classify, extract, validate)
//   - engine: Engine config name
//   - provenance: Router selection provenance (rule, score, fallback)
//   - validation_type: Validation engine (upstream, downstream)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
