package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// EngineRepository manages engine configurations, learned capability scores,
// routing rules, and the routing policy singleton. It is the router's
// ConfigSource and the capability scorer's ScoreStore.
type EngineRepository interface {
	// CreateEngineConfig inserts a new engine configuration. When the config
	// is marked primary, the primary flag is cleared on all other active
	// configs in the same transaction.
	CreateEngineConfig(ctx context.Context, cfg *domain.EngineConfig) error

	// UpdateEngineConfig persists changes to an engine configuration with
	// the same primary-flag coercion as CreateEngineConfig.
	UpdateEngineConfig(ctx context.Context, cfg *domain.EngineConfig) error

	// GetEngineConfig retrieves an engine configuration by ID.
	GetEngineConfig(ctx context.Context, id uuid.UUID) (*domain.EngineConfig, error)

	// ActiveEngineConfigs returns active engine configurations in insertion
	// order.
	ActiveEngineConfigs(ctx context.Context) ([]domain.EngineConfig, error)

	// ActiveRoutingRules returns active routing rules.
	ActiveRoutingRules(ctx context.Context) ([]domain.EngineRoutingRule, error)

	// CreateRoutingRule inserts a new routing rule.
	CreateRoutingRule(ctx context.Context, rule *domain.EngineRoutingRule) error

	// ActiveCapabilityScores returns active capability scores for a language.
	ActiveCapabilityScores(ctx context.Context, language string) ([]domain.EngineCapabilityScore, error)

	// GetCapabilityScore retrieves the score row for an exact
	// (engine, language, document type) key; documentTypeID nil addresses
	// the wildcard row.
	GetCapabilityScore(ctx context.Context, engineConfigID uuid.UUID, language string, documentTypeID *uuid.UUID) (*domain.EngineCapabilityScore, error)

	// UpsertCapabilityScore inserts or replaces a capability score row.
	UpsertCapabilityScore(ctx context.Context, score *domain.EngineCapabilityScore) error

	// GetRoutingPolicy returns the composite-score weights, creating the
	// default policy row on first read.
	GetRoutingPolicy(ctx context.Context) (domain.RoutingPolicy, error)

	// UpdateRoutingPolicy replaces the composite-score weights.
	UpdateRoutingPolicy(ctx context.Context, policy domain.RoutingPolicy) error
}
