package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// ScoreStore is the capability-score persistence the scorer writes through.
type ScoreStore interface {
	// GetCapabilityScore returns the score row for the exact key, or a
	// NotFoundError when none exists.
	GetCapabilityScore(ctx context.Context, engineConfigID uuid.UUID, language string, documentTypeID *uuid.UUID) (*domain.EngineCapabilityScore, error)
	// UpsertCapabilityScore inserts or updates the row for the score's key.
	UpsertCapabilityScore(ctx context.Context, score *domain.EngineCapabilityScore) error
}

// Scorer tuning. The speed formula saturates at 100 below the fast
// reference time and reaches 0 around 60 seconds.
const (
	emaAlpha            = 0.2
	speedReferenceMs    = 5000
	speedMsPerPoint     = 550
	accuracyScaleFactor = 100
)

// Scorer maintains the learned accuracy/speed estimate per (engine,
// language, document type) from extraction feedback. It is the only writer
// of capability scores; routing reads are point-in-time snapshots.
type Scorer struct {
	store  ScoreStore
	logger zerolog.Logger
}

// NewScorer creates a capability scorer.
func NewScorer(store ScoreStore, logger zerolog.Logger) *Scorer {
	return &Scorer{
		store:  store,
		logger: logger.With().Str("component", "capability-scorer").Logger(),
	}
}

// RecordSample folds one extraction outcome into the engine's capability
// score. The first sample for a key seeds the row; later samples blend in
// with an exponential moving average.
func (s *Scorer) RecordSample(ctx context.Context, engineConfigID uuid.UUID, language string, documentTypeID *uuid.UUID, confidence float64, processingTimeMs int) error {
	newAccuracy := clampScore(confidence * accuracyScaleFactor)
	newSpeed := speedScore(processingTimeMs)

	existing, err := s.store.GetCapabilityScore(ctx, engineConfigID, language, documentTypeID)
	switch {
	case err == nil:
		existing.AccuracyScore = clampScore(emaAlpha*newAccuracy + (1-emaAlpha)*existing.AccuracyScore)
		existing.SpeedScore = clampScore(emaAlpha*newSpeed + (1-emaAlpha)*existing.SpeedScore)
		existing.UpdatedAt = time.Now().UTC()
		if err := s.store.UpsertCapabilityScore(ctx, existing); err != nil {
			return fmt.Errorf("update capability score: %w", err)
		}
	case errors.Is(err, domain.ErrNotFound):
		seed := &domain.EngineCapabilityScore{
			ID:             uuid.New(),
			EngineConfigID: engineConfigID,
			Language:       language,
			DocumentTypeID: documentTypeID,
			AccuracyScore:  newAccuracy,
			SpeedScore:     newSpeed,
			IsActive:       true,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		if err := s.store.UpsertCapabilityScore(ctx, seed); err != nil {
			return fmt.Errorf("seed capability score: %w", err)
		}
	default:
		return fmt.Errorf("load capability score: %w", err)
	}

	s.logger.Debug().
		Str("engine_config_id", engineConfigID.String()).
		Str("language", language).
		Float64("new_accuracy", newAccuracy).
		Float64("new_speed", newSpeed).
		Msg("Recorded capability sample")

	return nil
}

// speedScore maps processing time onto [0,100]. Calls faster than the
// reference time score 100; each additional 550ms costs one point.
func speedScore(processingTimeMs int) float64 {
	return clampScore(100 - float64(processingTimeMs-speedReferenceMs)/speedMsPerPoint)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
