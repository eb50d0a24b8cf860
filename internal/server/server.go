// Package server provides the HTTP API for the document processing service:
// document upload and retrieval, manual review actions, proposal review,
// and the operator-facing configuration endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimsight/document-processing-service/internal/database"
	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/engine"
	"github.com/claimsight/document-processing-service/internal/observability"
	"github.com/claimsight/document-processing-service/internal/repository"
	"github.com/claimsight/document-processing-service/internal/storage"
)

// WorkflowClient defines the workflow operations the HTTP server uses.
// Implemented by temporal.WorkflowClient.
type WorkflowClient interface {
	StartDocumentPipeline(ctx context.Context, documentID uuid.UUID, workflowFunc interface{}, input interface{}) (workflowID, runID string, err error)
	StartValidation(ctx context.Context, documentID uuid.UUID, workflowFunc interface{}, input interface{}) (workflowID, runID string, err error)
}

// ProposalReviewer reviews and applies registry update proposals.
// Implemented by validation.ProposalService.
type ProposalReviewer interface {
	Approve(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error)
	Reject(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.RegistryUpdateProposal, error)
	Apply(ctx context.Context, id uuid.UUID, actorID string) (*domain.RegistryUpdateProposal, error)
}

// EngineHealthChecker probes all active engines. Implemented by engine.Router.
type EngineHealthChecker interface {
	HealthCheckAll(ctx context.Context) ([]engine.EngineHealth, error)
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server

	workflowClient     WorkflowClient
	pipelineWorkflow   interface{}
	validationWorkflow interface{}

	docs        repository.DocumentRepository
	docTypes    repository.DocumentTypeRepository
	engines     repository.EngineRepository
	validations repository.ValidationRepository
	audit       repository.AuditRepository
	blobs       storage.BlobStore
	proposals   ProposalReviewer
	health      EngineHealthChecker

	db      *database.DB
	metrics *observability.Metrics
	logger  zerolog.Logger

	maxUploadBytes   int64
	storageKeyPrefix string
}

// Config holds HTTP server configuration.
type Config struct {
	Address          string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxUploadBytes   int64
	StorageKeyPrefix string
}

// Dependencies bundles everything the server needs. PipelineWorkflow and
// ValidationWorkflow are the Temporal workflow function references passed
// through to the workflow client on start.
type Dependencies struct {
	WorkflowClient     WorkflowClient
	PipelineWorkflow   interface{}
	ValidationWorkflow interface{}
	Documents          repository.DocumentRepository
	DocumentTypes      repository.DocumentTypeRepository
	Engines            repository.EngineRepository
	Validations        repository.ValidationRepository
	Audit              repository.AuditRepository
	Blobs              storage.BlobStore
	Proposals          ProposalReviewer
	EngineHealth       EngineHealthChecker
	DB                 *database.DB
	Metrics            *observability.Metrics
}

// NewServer creates the HTTP server with all routes wired.
func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	s := &Server{
		workflowClient:     deps.WorkflowClient,
		pipelineWorkflow:   deps.PipelineWorkflow,
		validationWorkflow: deps.ValidationWorkflow,
		docs:               deps.Documents,
		docTypes:           deps.DocumentTypes,
		engines:            deps.Engines,
		validations:        deps.Validations,
		audit:              deps.Audit,
		blobs:              deps.Blobs,
		proposals:          deps.Proposals,
		health:             deps.EngineHealth,
		db:                 deps.DB,
		metrics:            deps.Metrics,
		logger:             logger.With().Str("component", "http-server").Logger(),
		maxUploadBytes:     cfg.MaxUploadBytes,
		storageKeyPrefix:   cfg.StorageKeyPrefix,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(actorIDMiddleware)
		r.Use(jsonContentTypeMiddleware)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.uploadDocument)
			r.Get("/", s.listDocuments)
			r.Route("/{documentID}", func(r chi.Router) {
				r.Get("/", s.getDocument)
				r.Get("/extraction", s.getExtractionResult)
				r.Get("/validations", s.listValidationResults)
				r.Get("/audit", s.listAuditTrail)
				r.Post("/review", s.reviewDocument)
			})
		})

		r.Get("/validation-results/{resultID}/findings", s.listFindings)
		r.Post("/findings/{findingID}/resolution", s.resolveFinding)

		r.Route("/proposals", func(r chi.Router) {
			r.Get("/", s.listProposals)
			r.Post("/{proposalID}/approve", s.approveProposal)
			r.Post("/{proposalID}/reject", s.rejectProposal)
			r.Post("/{proposalID}/apply", s.applyProposal)
		})

		r.Get("/engines/health", s.engineHealth)

		r.Route("/admin", func(r chi.Router) {
			r.Route("/engine-configs", func(r chi.Router) {
				r.Post("/", s.createEngineConfig)
				r.Get("/", s.listEngineConfigs)
				r.Get("/{configID}", s.getEngineConfig)
				r.Put("/{configID}", s.updateEngineConfig)
			})
			r.Route("/routing-rules", func(r chi.Router) {
				r.Post("/", s.createRoutingRule)
				r.Get("/", s.listRoutingRules)
			})
			r.Route("/capability-scores", func(r chi.Router) {
				r.Get("/", s.listCapabilityScores)
				r.Put("/", s.upsertCapabilityScore)
			})
			r.Route("/routing-policy", func(r chi.Router) {
				r.Get("/", s.getRoutingPolicy)
				r.Put("/", s.updateRoutingPolicy)
			})
			r.Route("/validation-rules", func(r chi.Router) {
				r.Post("/", s.createValidationRule)
				r.Get("/", s.listValidationRules)
				r.Put("/{ruleID}", s.updateValidationRule)
			})
			r.Route("/document-types", func(r chi.Router) {
				r.Post("/", s.createDocumentType)
				r.Get("/", s.listDocumentTypes)
				r.Get("/{typeID}", s.getDocumentType)
				r.Put("/{typeID}", s.updateDocumentType)
			})
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
