package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the document processing service.
// Metrics are organized by subsystem: documents, pipeline stages, engines, and
// validation. All counters and histograms are registered via promauto for
// automatic registration with the default Prometheus registry.
type Metrics struct {
	// DocumentsUploaded counts the total number of documents uploaded.
	DocumentsUploaded prometheus.Counter

	// DocumentsCompleted counts documents that reached completed status.
	DocumentsCompleted prometheus.Counter

	// DocumentsFailed counts documents that ended in failed status.
	DocumentsFailed prometheus.Counter

	// DocumentsReviewRequired counts documents queued for human review.
	DocumentsReviewRequired prometheus.Counter

	// PipelineDuration observes the end-to-end pipeline duration in seconds.
	PipelineDuration prometheus.Histogram

	// StagesCompleted counts finished pipeline stages, labeled by stage and result.
	StagesCompleted *prometheus.CounterVec

	// StageDuration observes per-stage duration in seconds, labeled by stage.
	StageDuration *prometheus.HistogramVec

	// EngineCalls counts engine requests, labeled by engine, operation, and
	// the router provenance of the selection.
	EngineCalls *prometheus.CounterVec

	// EngineCallsFailed counts failed engine requests, labeled by engine,
	// operation, and error type.
	EngineCallsFailed *prometheus.CounterVec

	// EngineCallDuration observes engine call duration in seconds.
	EngineCallDuration *prometheus.HistogramVec

	// EngineTokensUsed counts tokens consumed, labeled by engine and operation.
	EngineTokensUsed *prometheus.CounterVec

	// EngineRateLimited counts rate-limited responses, labeled by engine.
	EngineRateLimited *prometheus.CounterVec

	// EngineBreakerOpen counts calls rejected by an open circuit breaker.
	EngineBreakerOpen *prometheus.CounterVec

	// ExtractionConfidence observes aggregate extraction confidence.
	ExtractionConfidence prometheus.Histogram

	// ValidationRuns counts validation runs, labeled by validation type and
	// overall status.
	ValidationRuns *prometheus.CounterVec

	// ValidationFindings counts findings raised, labeled by finding type and
	// severity.
	ValidationFindings *prometheus.CounterVec

	// ProposalsApplied counts registry update proposals applied.
	ProposalsApplied prometheus.Counter

	// EventsPublished counts lifecycle events published, labeled by event type
	// and result.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Documents
		DocumentsUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_uploaded_total",
			Help:      "Total number of documents uploaded",
		}),
		DocumentsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_completed_total",
			Help:      "Total number of documents that completed processing",
		}),
		DocumentsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_failed_total",
			Help:      "Total number of documents that failed processing",
		}),
		DocumentsReviewRequired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_review_required_total",
			Help:      "Total number of documents queued for human review",
		}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end document pipeline duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),

		// Stages
		StagesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_completed_total",
			Help:      "Total number of pipeline stages completed by stage and result",
		}, []string{"stage", "result"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),

		// Engines
		EngineCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Total number of engine calls by engine, operation, and provenance",
		}, []string{"engine", "operation", "provenance"}),
		EngineCallsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_failed_total",
			Help:      "Total number of failed engine calls by engine and operation",
		}, []string{"engine", "operation", "error_type"}),
		EngineCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Duration of engine calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"engine", "operation"}),
		EngineTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_tokens_used_total",
			Help:      "Total number of tokens used by engine calls",
		}, []string{"engine", "operation"}),
		EngineRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_rate_limited_total",
			Help:      "Total number of rate limit responses from engines",
		}, []string{"engine"}),
		EngineBreakerOpen: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_breaker_open_total",
			Help:      "Total number of engine calls rejected by an open circuit breaker",
		}, []string{"engine"}),
		ExtractionConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_confidence",
			Help:      "Aggregate confidence of extraction results",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}),

		// Validation
		ValidationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_runs_total",
			Help:      "Total number of validation runs by type and overall status",
		}, []string{"validation_type", "overall_status"}),
		ValidationFindings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_findings_total",
			Help:      "Total number of validation findings by type and severity",
		}, []string{"finding_type", "severity"}),
		ProposalsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_applied_total",
			Help:      "Total number of registry update proposals applied",
		}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of lifecycle events published by type and result",
		}, []string{"event_type", "result"}),
	}
}

// RecordDocumentUploaded records that a document was uploaded.
func (m *Metrics) RecordDocumentUploaded() {
	m.DocumentsUploaded.Inc()
}

// RecordDocumentCompleted records a completed pipeline run.
func (m *Metrics) RecordDocumentCompleted(durationSeconds float64) {
	m.DocumentsCompleted.Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordDocumentFailed records a failed pipeline run.
func (m *Metrics) RecordDocumentFailed(durationSeconds float64) {
	m.DocumentsFailed.Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordDocumentReviewRequired records a pipeline run routed to human review.
func (m *Metrics) RecordDocumentReviewRequired(durationSeconds float64) {
	m.DocumentsReviewRequired.Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordStage records a finished pipeline stage.
func (m *Metrics) RecordStage(stage, result string, durationSeconds float64) {
	m.StagesCompleted.WithLabelValues(stage, result).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordEngineCall records a successful engine call.
func (m *Metrics) RecordEngineCall(engine, operation, provenance string, durationSeconds float64, tokensUsed int) {
	m.EngineCalls.WithLabelValues(engine, operation, provenance).Inc()
	m.EngineCallDuration.WithLabelValues(engine, operation).Observe(durationSeconds)
	m.EngineTokensUsed.WithLabelValues(engine, operation).Add(float64(tokensUsed))
}

// RecordEngineCallFailed records a failed engine call.
func (m *Metrics) RecordEngineCallFailed(engine, operation, errorType string) {
	m.EngineCallsFailed.WithLabelValues(engine, operation, errorType).Inc()
}

// RecordEngineRateLimited records a rate limit response from an engine.
func (m *Metrics) RecordEngineRateLimited(engine string) {
	m.EngineRateLimited.WithLabelValues(engine).Inc()
}

// RecordEngineBreakerOpen records a call rejected by an open breaker.
func (m *Metrics) RecordEngineBreakerOpen(engine string) {
	m.EngineBreakerOpen.WithLabelValues(engine).Inc()
}

// RecordExtractionConfidence records an extraction's aggregate confidence.
func (m *Metrics) RecordExtractionConfidence(confidence float64) {
	m.ExtractionConfidence.Observe(confidence)
}

// RecordValidationRun records a finished validation run.
func (m *Metrics) RecordValidationRun(validationType, overallStatus string) {
	m.ValidationRuns.WithLabelValues(validationType, overallStatus).Inc()
}

// RecordValidationFinding records a raised finding.
func (m *Metrics) RecordValidationFinding(findingType, severity string) {
	m.ValidationFindings.WithLabelValues(findingType, severity).Inc()
}

// RecordProposalApplied records an applied registry update proposal.
func (m *Metrics) RecordProposalApplied() {
	m.ProposalsApplied.Inc()
}

// RecordEventPublished records a lifecycle event publish attempt.
func (m *Metrics) RecordEventPublished(eventType, result string) {
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}
