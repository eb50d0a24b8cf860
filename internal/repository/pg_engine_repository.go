package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Compile-time interface verification.
var _ EngineRepository = (*PgEngineRepository)(nil)

// PgEngineRepository is a PostgreSQL implementation of EngineRepository.
type PgEngineRepository struct {
	db DBTX
}

// NewPgEngineRepository creates a new PostgreSQL engine repository.
func NewPgEngineRepository(db DBTX) *PgEngineRepository {
	return &PgEngineRepository{db: db}
}

const engineConfigColumns = `id, name, adapter_kind, endpoint_url, api_key, model_id,
		is_primary, is_fallback, is_active, max_tokens, temperature, timeout_seconds,
		created_at, updated_at`

// routingPolicyRowID addresses the storage-level policy singleton.
const routingPolicyRowID = 0

// CreateEngineConfig inserts a new engine configuration, clearing the primary
// flag on other configs when this one claims it.
func (r *PgEngineRepository) CreateEngineConfig(ctx context.Context, cfg *domain.EngineConfig) error {
	if err := validateEngineConfig(cfg); err != nil {
		return err
	}

	return r.withEngineTx(ctx, func(repo *PgEngineRepository) error {
		if cfg.IsPrimary {
			if err := repo.clearOtherPrimaries(ctx, cfg.ID); err != nil {
				return err
			}
		}

		query := fmt.Sprintf(`
			INSERT INTO engine_configs (%s)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			engineConfigColumns)

		_, err := repo.db.Exec(ctx, query,
			cfg.ID, cfg.Name, cfg.AdapterKind, cfg.EndpointURL, cfg.APIKey, cfg.ModelID,
			cfg.IsPrimary, cfg.IsFallback, cfg.IsActive, cfg.MaxTokens, cfg.Temperature, cfg.TimeoutSeconds,
			cfg.CreatedAt, cfg.UpdatedAt,
		)
		if err != nil {
			if isPgUniqueViolation(err) {
				return domain.NewAlreadyExistsError("engine config", cfg.Name)
			}
			return fmt.Errorf("failed to create engine config: %w", err)
		}
		return nil
	})
}

// UpdateEngineConfig persists changes to an engine configuration with the
// same primary-flag coercion as CreateEngineConfig.
func (r *PgEngineRepository) UpdateEngineConfig(ctx context.Context, cfg *domain.EngineConfig) error {
	if err := validateEngineConfig(cfg); err != nil {
		return err
	}

	return r.withEngineTx(ctx, func(repo *PgEngineRepository) error {
		if cfg.IsPrimary {
			if err := repo.clearOtherPrimaries(ctx, cfg.ID); err != nil {
				return err
			}
		}

		cfg.UpdatedAt = time.Now().UTC()

		query := `
			UPDATE engine_configs SET
				name = $1,
				adapter_kind = $2,
				endpoint_url = $3,
				api_key = $4,
				model_id = $5,
				is_primary = $6,
				is_fallback = $7,
				is_active = $8,
				max_tokens = $9,
				temperature = $10,
				timeout_seconds = $11,
				updated_at = $12
			WHERE id = $13`

		result, err := repo.db.Exec(ctx, query,
			cfg.Name, cfg.AdapterKind, cfg.EndpointURL, cfg.APIKey, cfg.ModelID,
			cfg.IsPrimary, cfg.IsFallback, cfg.IsActive, cfg.MaxTokens, cfg.Temperature, cfg.TimeoutSeconds,
			cfg.UpdatedAt, cfg.ID,
		)
		if err != nil {
			if isPgUniqueViolation(err) {
				return domain.NewAlreadyExistsError("engine config", cfg.Name)
			}
			return fmt.Errorf("failed to update engine config: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.NewNotFoundError("engine config", cfg.ID.String())
		}
		return nil
	})
}

// withEngineTx runs fn inside a transaction when the underlying DBTX is a
// pool; inside an existing transaction fn executes directly.
func (r *PgEngineRepository) withEngineTx(ctx context.Context, fn func(*PgEngineRepository) error) error {
	beginner, ok := r.db.(txBeginner)
	if !ok {
		return fn(r)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PgEngineRepository{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// clearOtherPrimaries demotes every other engine config holding the primary
// flag. Must run in the same transaction as the write claiming it.
func (r *PgEngineRepository) clearOtherPrimaries(ctx context.Context, keep uuid.UUID) error {
	query := `
		UPDATE engine_configs
		SET is_primary = FALSE, updated_at = $1
		WHERE is_primary = TRUE AND id <> $2`

	if _, err := r.db.Exec(ctx, query, time.Now().UTC(), keep); err != nil {
		return fmt.Errorf("failed to clear primary flags: %w", err)
	}
	return nil
}

// GetEngineConfig retrieves an engine configuration by ID.
func (r *PgEngineRepository) GetEngineConfig(ctx context.Context, id uuid.UUID) (*domain.EngineConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM engine_configs WHERE id = $1`, engineConfigColumns)

	var cfg domain.EngineConfig
	err := r.db.QueryRow(ctx, query, id).Scan(engineConfigDest(&cfg)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("engine config", id.String())
		}
		return nil, fmt.Errorf("failed to get engine config: %w", err)
	}

	return &cfg, nil
}

// ActiveEngineConfigs returns active engine configurations oldest first, so
// the fallback chain's insertion-order tie-break is stable.
func (r *PgEngineRepository) ActiveEngineConfigs(ctx context.Context) ([]domain.EngineConfig, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM engine_configs
		WHERE is_active = TRUE
		ORDER BY created_at ASC`, engineConfigColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list engine configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.EngineConfig
	for rows.Next() {
		var cfg domain.EngineConfig
		if err := rows.Scan(engineConfigDest(&cfg)...); err != nil {
			return nil, fmt.Errorf("failed to scan engine config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating engine configs: %w", err)
	}

	return configs, nil
}

const routingRuleColumns = `id, language, document_type_id, engine_config_id,
		min_confidence, priority, is_active, created_at, updated_at`

// ActiveRoutingRules returns active routing rules highest priority first.
func (r *PgEngineRepository) ActiveRoutingRules(ctx context.Context) ([]domain.EngineRoutingRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM engine_routing_rules
		WHERE is_active = TRUE
		ORDER BY priority DESC, created_at ASC`, routingRuleColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.EngineRoutingRule
	for rows.Next() {
		var rule domain.EngineRoutingRule
		if err := rows.Scan(
			&rule.ID, &rule.Language, &rule.DocumentTypeID, &rule.EngineConfigID,
			&rule.MinConfidence, &rule.Priority, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan routing rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routing rules: %w", err)
	}

	return rules, nil
}

// CreateRoutingRule inserts a new routing rule.
func (r *PgEngineRepository) CreateRoutingRule(ctx context.Context, rule *domain.EngineRoutingRule) error {
	if rule == nil {
		return domain.NewValidationError("rule", "routing rule cannot be nil")
	}
	if rule.EngineConfigID == uuid.Nil {
		return domain.NewValidationError("engine_config_id", "engine config ID is required")
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO engine_routing_rules (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, routingRuleColumns)

	_, err := r.db.Exec(ctx, query,
		rule.ID, rule.Language, rule.DocumentTypeID, rule.EngineConfigID,
		rule.MinConfidence, rule.Priority, rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("engine config", rule.EngineConfigID.String())
		}
		return fmt.Errorf("failed to create routing rule: %w", err)
	}

	return nil
}

const capabilityScoreColumns = `id, engine_config_id, language, document_type_id,
		accuracy_score, speed_score, cost_per_page, is_active, created_at, updated_at`

// ActiveCapabilityScores returns active capability scores for a language.
func (r *PgEngineRepository) ActiveCapabilityScores(ctx context.Context, language string) ([]domain.EngineCapabilityScore, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM engine_capability_scores
		WHERE is_active = TRUE AND language = $1`, capabilityScoreColumns)

	rows, err := r.db.Query(ctx, query, language)
	if err != nil {
		return nil, fmt.Errorf("failed to list capability scores: %w", err)
	}
	defer rows.Close()

	var scores []domain.EngineCapabilityScore
	for rows.Next() {
		var score domain.EngineCapabilityScore
		if err := rows.Scan(capabilityScoreDest(&score)...); err != nil {
			return nil, fmt.Errorf("failed to scan capability score: %w", err)
		}
		scores = append(scores, score)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capability scores: %w", err)
	}

	return scores, nil
}

// GetCapabilityScore retrieves the score row for an exact key. A nil
// documentTypeID addresses the wildcard row, not any row.
func (r *PgEngineRepository) GetCapabilityScore(ctx context.Context, engineConfigID uuid.UUID, language string, documentTypeID *uuid.UUID) (*domain.EngineCapabilityScore, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM engine_capability_scores
		WHERE engine_config_id = $1
		  AND language = $2
		  AND document_type_id IS NOT DISTINCT FROM $3`, capabilityScoreColumns)

	var score domain.EngineCapabilityScore
	err := r.db.QueryRow(ctx, query, engineConfigID, language, documentTypeID).
		Scan(capabilityScoreDest(&score)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("capability score", engineConfigID.String())
		}
		return nil, fmt.Errorf("failed to get capability score: %w", err)
	}

	return &score, nil
}

// UpsertCapabilityScore inserts or replaces a capability score row. The
// conflict target matches the coalesced unique index so the wildcard row
// (NULL document type) collapses to a single row per (engine, language).
func (r *PgEngineRepository) UpsertCapabilityScore(ctx context.Context, score *domain.EngineCapabilityScore) error {
	if score == nil {
		return domain.NewValidationError("score", "capability score cannot be nil")
	}
	if score.EngineConfigID == uuid.Nil {
		return domain.NewValidationError("engine_config_id", "engine config ID is required")
	}
	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO engine_capability_scores (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (engine_config_id, language, COALESCE(document_type_id, '00000000-0000-0000-0000-000000000000'::uuid))
		DO UPDATE SET
			accuracy_score = EXCLUDED.accuracy_score,
			speed_score = EXCLUDED.speed_score,
			cost_per_page = EXCLUDED.cost_per_page,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`, capabilityScoreColumns)

	_, err := r.db.Exec(ctx, query,
		score.ID, score.EngineConfigID, score.Language, score.DocumentTypeID,
		score.AccuracyScore, score.SpeedScore, score.CostPerPage, score.IsActive,
		score.CreatedAt, score.UpdatedAt,
	)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("engine config", score.EngineConfigID.String())
		}
		return fmt.Errorf("failed to upsert capability score: %w", err)
	}

	return nil
}

// GetRoutingPolicy returns the composite-score weights, seeding the default
// policy row on first read.
func (r *PgEngineRepository) GetRoutingPolicy(ctx context.Context) (domain.RoutingPolicy, error) {
	query := `
		SELECT accuracy_weight, cost_weight, speed_weight, updated_at
		FROM routing_policy
		WHERE id = $1`

	var policy domain.RoutingPolicy
	err := r.db.QueryRow(ctx, query, routingPolicyRowID).Scan(
		&policy.AccuracyWeight, &policy.CostWeight, &policy.SpeedWeight, &policy.UpdatedAt,
	)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.RoutingPolicy{}, fmt.Errorf("failed to get routing policy: %w", err)
	}

	policy = domain.DefaultRoutingPolicy()
	policy.UpdatedAt = time.Now().UTC()
	if err := r.writeRoutingPolicy(ctx, policy); err != nil {
		return domain.RoutingPolicy{}, err
	}
	return policy, nil
}

// UpdateRoutingPolicy replaces the composite-score weights.
func (r *PgEngineRepository) UpdateRoutingPolicy(ctx context.Context, policy domain.RoutingPolicy) error {
	policy.UpdatedAt = time.Now().UTC()
	return r.writeRoutingPolicy(ctx, policy)
}

func (r *PgEngineRepository) writeRoutingPolicy(ctx context.Context, policy domain.RoutingPolicy) error {
	query := `
		INSERT INTO routing_policy (id, accuracy_weight, cost_weight, speed_weight, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			accuracy_weight = EXCLUDED.accuracy_weight,
			cost_weight = EXCLUDED.cost_weight,
			speed_weight = EXCLUDED.speed_weight,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		routingPolicyRowID, policy.AccuracyWeight, policy.CostWeight, policy.SpeedWeight, policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write routing policy: %w", err)
	}
	return nil
}

func validateEngineConfig(cfg *domain.EngineConfig) error {
	if cfg == nil {
		return domain.NewValidationError("config", "engine config cannot be nil")
	}
	if cfg.ID == uuid.Nil {
		return domain.NewValidationError("id", "engine config ID is required")
	}
	if cfg.Name == "" {
		return domain.NewValidationError("name", "name is required")
	}
	if cfg.AdapterKind == "" {
		return domain.NewValidationError("adapter_kind", "adapter kind is required")
	}
	return nil
}

func engineConfigDest(cfg *domain.EngineConfig) []interface{} {
	return []interface{}{
		&cfg.ID, &cfg.Name, &cfg.AdapterKind, &cfg.EndpointURL, &cfg.APIKey, &cfg.ModelID,
		&cfg.IsPrimary, &cfg.IsFallback, &cfg.IsActive, &cfg.MaxTokens, &cfg.Temperature, &cfg.TimeoutSeconds,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	}
}

func capabilityScoreDest(score *domain.EngineCapabilityScore) []interface{} {
	return []interface{}{
		&score.ID, &score.EngineConfigID, &score.Language, &score.DocumentTypeID,
		&score.AccuracyScore, &score.SpeedScore, &score.CostPerPage, &score.IsActive,
		&score.CreatedAt, &score.UpdatedAt,
	}
}
