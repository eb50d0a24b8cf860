package activities

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/claimsight/document-processing-service/internal/config"
	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/engine"
	"github.com/claimsight/document-processing-service/internal/observability"
	"github.com/claimsight/document-processing-service/internal/repository"
	"github.com/claimsight/document-processing-service/internal/storage"
)

// ImageAnalyzer derives preprocessing metadata from raw document bytes.
// Implemented by preprocess.Analyzer.
type ImageAnalyzer interface {
	Analyze(data []byte, mimeType string) (*domain.PreprocessingMetadata, error)
}

// EngineRouter is the subset of engine.Router used by document activities.
type EngineRouter interface {
	Classify(ctx context.Context, req engine.ClassifyRequest) (*engine.ClassificationOutcome, *engine.Selection, error)
	ExtractRouted(ctx context.Context, req engine.ExtractRequest, language string, documentTypeID *uuid.UUID) (*engine.ExtractionOutcome, *engine.Selection, error)
}

// ScoreRecorder feeds extraction feedback into the capability scorer.
// Implemented by engine.Scorer.
type ScoreRecorder interface {
	RecordSample(ctx context.Context, engineConfigID uuid.UUID, language string, documentTypeID *uuid.UUID, confidence float64, processingTimeMs int) error
}

// DocumentActivities provides Temporal activities for the preprocess,
// classify and extract stages of the document pipeline.
// Methods on this struct are registered as Temporal activities via the worker.
type DocumentActivities struct {
	docs     repository.DocumentRepository
	types    repository.DocumentTypeRepository
	audit    repository.AuditRepository
	blobs    storage.BlobStore
	analyzer ImageAnalyzer
	router   EngineRouter
	scorer   ScoreRecorder
	pipeline config.PipelineConfig
	metrics  *observability.Metrics
}

// NewDocumentActivities creates a new DocumentActivities instance with the
// given dependencies. The metrics parameter may be nil (metrics recording
// will be skipped).
func NewDocumentActivities(
	docs repository.DocumentRepository,
	types repository.DocumentTypeRepository,
	audit repository.AuditRepository,
	blobs storage.BlobStore,
	analyzer ImageAnalyzer,
	router EngineRouter,
	scorer ScoreRecorder,
	pipeline config.PipelineConfig,
	metrics *observability.Metrics,
) *DocumentActivities {
	return &DocumentActivities{
		docs:     docs,
		types:    types,
		audit:    audit,
		blobs:    blobs,
		analyzer: analyzer,
		router:   router,
		scorer:   scorer,
		pipeline: pipeline,
		metrics:  metrics,
	}
}

// Preprocess reads the uploaded blob, derives image metadata (dimensions,
// estimated DPI, quality score, page count) and persists it on the document.
//
// A missing storage key or an unsupported MIME type is terminal for the
// stage; blob store and database failures stay retryable.
func (a *DocumentActivities) Preprocess(ctx context.Context, input PreprocessInput) (*PreprocessOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("preprocessing document", "documentID", input.DocumentID)

	doc, err := a.docs.Get(ctx, input.DocumentID)
	if err != nil {
		return nil, stageError("get document", err)
	}
	if doc.StorageKey == "" {
		return nil, stageError("preprocess", domain.NewValidationError("storage_key", "document has no stored content"))
	}

	data, err := a.blobs.Read(ctx, doc.StorageKey)
	if err != nil {
		return nil, stageError("read blob", err)
	}

	meta, err := a.analyzer.Analyze(data, doc.MimeType)
	if err != nil {
		return nil, stageError("analyze document", err)
	}

	err = a.docs.Update(ctx, doc.ID, func(d *domain.Document) error {
		d.PreprocessingMetadata = meta
		return nil
	})
	if err != nil {
		return nil, stageError("save preprocessing metadata", err)
	}

	a.appendAudit(ctx, &domain.AuditLog{
		DocumentID: doc.ID,
		Action:     domain.AuditActionPreprocess,
		Details: map[string]any{
			"quality_score": meta.QualityScore,
			"page_count":    meta.PageCount,
			"format":        meta.Format,
		},
		ActorID: input.ActorID,
	})

	logger.Info("document preprocessed",
		"documentID", doc.ID,
		"qualityScore", meta.QualityScore,
		"pageCount", meta.PageCount,
	)

	return &PreprocessOutput{Metadata: *meta}, nil
}

// Classify transitions the document to classifying and asks the engine
// router to match it against the active document type catalog.
//
// An empty catalog or a router failure is tolerated: the stage logs a
// warning and returns Classified=false so the pipeline continues with a
// generic extraction.
func (a *DocumentActivities) Classify(ctx context.Context, input ClassifyInput) (*ClassifyOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("classifying document", "documentID", input.DocumentID)

	if err := a.docs.UpdateStatus(ctx, input.DocumentID, domain.DocumentStatusClassifying, "", input.ActorID); err != nil {
		return nil, stageError("transition to classifying", err)
	}

	doc, err := a.docs.Get(ctx, input.DocumentID)
	if err != nil {
		return nil, stageError("get document", err)
	}

	catalog, err := a.types.ListActive(ctx)
	if err != nil {
		return nil, stageError("list document types", err)
	}
	if len(catalog) == 0 {
		logger.Warn("no active document types, skipping classification", "documentID", doc.ID)
		return &ClassifyOutput{}, nil
	}

	data, err := a.blobs.Read(ctx, doc.StorageKey)
	if err != nil {
		return nil, stageError("read blob", err)
	}

	outcome, selection, err := a.router.Classify(ctx, engine.ClassifyRequest{
		Image:      data,
		MIMEType:   doc.MimeType,
		Candidates: catalog,
	})
	if err != nil {
		logger.Warn("classification failed, continuing without a document type",
			"documentID", doc.ID,
			"error", err,
		)
		return &ClassifyOutput{}, nil
	}

	var matched *domain.DocumentType
	for i := range catalog {
		if catalog[i].Code == outcome.DocumentTypeCode {
			matched = &catalog[i]
			break
		}
	}
	if matched == nil {
		logger.Warn("classifier returned unknown document type code",
			"documentID", doc.ID,
			"code", outcome.DocumentTypeCode,
		)
		return &ClassifyOutput{}, nil
	}

	err = a.docs.Update(ctx, doc.ID, func(d *domain.Document) error {
		d.DocumentTypeID = &matched.ID
		d.ClassificationConfidence = &outcome.Confidence
		d.SelectedEngineID = &selection.EngineConfigID
		if outcome.Language != "" {
			lang := outcome.Language
			d.Language = &lang
		}
		return nil
	})
	if err != nil {
		return nil, stageError("save classification", err)
	}

	a.appendAudit(ctx, &domain.AuditLog{
		DocumentID: doc.ID,
		Action:     domain.AuditActionClassify,
		Details: map[string]any{
			"document_type_code": matched.Code,
			"confidence":         outcome.Confidence,
			"language":           outcome.Language,
			"provenance":         string(selection.Provenance),
		},
		EngineConfigID: &selection.EngineConfigID,
		ActorID:        input.ActorID,
	})

	logger.Info("document classified",
		"documentID", doc.ID,
		"documentTypeCode", matched.Code,
		"confidence", outcome.Confidence,
		"engine", selection.EngineName,
	)

	return &ClassifyOutput{
		Classified:       true,
		DocumentTypeID:   &matched.ID,
		DocumentTypeCode: matched.Code,
		Confidence:       outcome.Confidence,
		Language:         outcome.Language,
		EngineConfigID:   &selection.EngineConfigID,
	}, nil
}

// Extract transitions the document to extracting, runs the routed
// extraction, persists the extraction result and applies the confidence
// gate: completed at or above the auto-approve threshold, review_required at
// or above the review threshold, failed below it.
//
// When the engine was selected by a routing rule or capability scoring, the
// outcome is fed back into the capability scorer.
func (a *DocumentActivities) Extract(ctx context.Context, input ExtractInput) (*ExtractOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("extracting document", "documentID", input.DocumentID)

	if err := a.docs.UpdateStatus(ctx, input.DocumentID, domain.DocumentStatusExtracting, "", input.ActorID); err != nil {
		return nil, stageError("transition to extracting", err)
	}

	doc, err := a.docs.Get(ctx, input.DocumentID)
	if err != nil {
		return nil, stageError("get document", err)
	}

	var template domain.ExtractionTemplate
	typeCode := ""
	if doc.DocumentTypeID != nil {
		docType, err := a.types.Get(ctx, *doc.DocumentTypeID)
		if err != nil {
			return nil, stageError("get document type", err)
		}
		template = docType.ExtractionTemplate
		typeCode = docType.Code
	}

	data, err := a.blobs.Read(ctx, doc.StorageKey)
	if err != nil {
		return nil, stageError("read blob", err)
	}

	language := ""
	if doc.Language != nil {
		language = *doc.Language
	}

	outcome, selection, err := a.router.ExtractRouted(ctx, engine.ExtractRequest{
		Image:            data,
		MIMEType:         doc.MimeType,
		DocumentTypeCode: typeCode,
		Template:         template,
	}, language, doc.DocumentTypeID)
	if err != nil {
		return nil, stageError("extract", err)
	}

	structured := make(map[string]any, len(outcome.Fields))
	confidences := make(map[string]float64, len(outcome.Fields))
	for name, field := range outcome.Fields {
		structured[name] = field.Value
		confidences[name] = field.Confidence
	}

	result := &domain.ExtractionResult{
		ID:                  uuid.New(),
		DocumentID:          doc.ID,
		StructuredData:      structured,
		FieldConfidences:    confidences,
		AggregateConfidence: outcome.AggregateConfidence,
		ProcessingTimeMs:    outcome.ProcessingTimeMs,
		TokensUsed:          outcome.TokensUsed,
	}
	if err := a.docs.SaveExtractionResult(ctx, result); err != nil {
		return nil, stageError("save extraction result", err)
	}

	err = a.docs.Update(ctx, doc.ID, func(d *domain.Document) error {
		d.SelectedEngineID = &selection.EngineConfigID
		return nil
	})
	if err != nil {
		return nil, stageError("save selected engine", err)
	}

	target := a.gateStatus(outcome.AggregateConfidence)
	errorMsg := ""
	if target == domain.DocumentStatusFailed {
		errorMsg = fmt.Sprintf("extraction confidence %.2f below review threshold %.2f",
			outcome.AggregateConfidence, a.pipeline.ReviewThreshold)
	}
	if err := a.docs.UpdateStatus(ctx, doc.ID, target, errorMsg, input.ActorID); err != nil {
		return nil, stageError("transition after extraction", err)
	}

	a.appendAudit(ctx, &domain.AuditLog{
		DocumentID: doc.ID,
		Action:     domain.AuditActionExtract,
		Details: map[string]any{
			"aggregate_confidence": outcome.AggregateConfidence,
			"field_count":          len(outcome.Fields),
			"processing_time_ms":   outcome.ProcessingTimeMs,
			"provenance":           string(selection.Provenance),
			"status":               string(target),
		},
		EngineConfigID: &selection.EngineConfigID,
		ActorID:        input.ActorID,
	})

	if a.metrics != nil {
		a.metrics.RecordExtractionConfidence(outcome.AggregateConfidence)
	}

	if selection.Provenance.Routed() {
		err := a.scorer.RecordSample(ctx, selection.EngineConfigID, language, doc.DocumentTypeID,
			outcome.AggregateConfidence, outcome.ProcessingTimeMs)
		if err != nil {
			logger.Warn("failed to record capability sample",
				"documentID", doc.ID,
				"engineConfigID", selection.EngineConfigID,
				"error", err,
			)
		}
	}

	logger.Info("document extracted",
		"documentID", doc.ID,
		"aggregateConfidence", outcome.AggregateConfidence,
		"status", target,
		"engine", selection.EngineName,
	)

	return &ExtractOutput{
		Status:              target,
		AggregateConfidence: outcome.AggregateConfidence,
		FieldCount:          len(outcome.Fields),
		EngineConfigID:      selection.EngineConfigID,
		Provenance:          selection.Provenance,
		ProcessingTimeMs:    outcome.ProcessingTimeMs,
	}, nil
}

// MarkFailed records a pipeline stage failure: the document moves to failed
// with the stage error message and an error audit entry is written.
func (a *DocumentActivities) MarkFailed(ctx context.Context, input MarkFailedInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("marking document failed",
		"documentID", input.DocumentID,
		"stage", input.Stage,
	)

	err := a.docs.UpdateStatus(ctx, input.DocumentID, domain.DocumentStatusFailed, input.ErrorMessage, input.ActorID)
	if err != nil {
		return stageError("transition to failed", err)
	}

	a.appendAudit(ctx, &domain.AuditLog{
		DocumentID: input.DocumentID,
		Action:     domain.AuditActionError,
		Details: map[string]any{
			"stage": input.Stage,
			"error": input.ErrorMessage,
		},
		ActorID: input.ActorID,
	})

	if a.metrics != nil {
		a.metrics.RecordStage(input.Stage, "error", 0)
	}

	return nil
}

// gateStatus applies the confidence gate thresholds.
func (a *DocumentActivities) gateStatus(confidence float64) domain.DocumentStatus {
	switch {
	case confidence >= a.pipeline.AutoApproveThreshold:
		return domain.DocumentStatusCompleted
	case confidence >= a.pipeline.ReviewThreshold:
		return domain.DocumentStatusReviewRequired
	default:
		return domain.DocumentStatusFailed
	}
}

// appendAudit writes an audit entry, logging instead of failing the stage
// when the write does not succeed.
func (a *DocumentActivities) appendAudit(ctx context.Context, entry *domain.AuditLog) {
	if err := a.audit.AppendAudit(ctx, entry); err != nil {
		activity.GetLogger(ctx).Warn("failed to append audit entry",
			"documentID", entry.DocumentID,
			"action", entry.Action,
			"error", err,
		)
	}
}
