package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/observability"
)

// ConfigSource supplies the routing configuration the router reads on every
// call. Loading per call keeps routing current after configuration changes;
// there is no process-lifetime engine cache.
type ConfigSource interface {
	// ActiveEngineConfigs returns active engines in insertion order.
	ActiveEngineConfigs(ctx context.Context) ([]domain.EngineConfig, error)
	// ActiveRoutingRules returns active routing rules.
	ActiveRoutingRules(ctx context.Context) ([]domain.EngineRoutingRule, error)
	// ActiveCapabilityScores returns active capability scores for a language.
	ActiveCapabilityScores(ctx context.Context, language string) ([]domain.EngineCapabilityScore, error)
	// GetRoutingPolicy returns the composite-score weights.
	GetRoutingPolicy(ctx context.Context) (domain.RoutingPolicy, error)
}

// RouterOptions tunes the router's resilience and adapter construction.
type RouterOptions struct {
	// HealthCheckTimeout bounds the liveness probe used during routed
	// selection.
	HealthCheckTimeout time.Duration
	// DefaultTimeout is used for engines whose config row carries no
	// timeout.
	DefaultTimeout time.Duration
	// RateLimitRPS and RateLimitBurst shape the per-engine token bucket.
	RateLimitRPS   float64
	RateLimitBurst int
	// BreakerConsecutiveFailures trips the per-engine circuit breaker.
	BreakerConsecutiveFailures uint32
	// BreakerCooldown is how long a tripped breaker stays open.
	BreakerCooldown time.Duration
	// FallbackAPIKey is used for engine rows without a stored credential.
	FallbackAPIKey string
	// Prompts resolves prompt text for all adapters.
	Prompts PromptResolver
}

func (o RouterOptions) withDefaults() RouterOptions {
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = 5 * time.Second
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = defaultAdapterTimeout
	}
	if o.RateLimitRPS <= 0 {
		o.RateLimitRPS = 5
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 10
	}
	if o.BreakerConsecutiveFailures == 0 {
		o.BreakerConsecutiveFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	return o
}

// Router selects an engine per call and executes with fallback. Engine
// configuration is loaded from the ConfigSource on every call; only the
// per-engine rate limiters and circuit breakers persist across calls.
type Router struct {
	source  ConfigSource
	opts    RouterOptions
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker[any]
}

// NewRouter creates an engine router. metrics may be nil in tests.
func NewRouter(source ConfigSource, opts RouterOptions, metrics *observability.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		source:   source,
		opts:     opts.withDefaults(),
		metrics:  metrics,
		logger:   logger.With().Str("component", "engine-router").Logger(),
		limiters: make(map[uuid.UUID]*rate.Limiter),
		breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker[any]),
	}
}

// adapterCall abstracts classify vs extract so the chain and routed
// selection logic is written once. invoke returns the vendor result plus
// tokens used and processing milliseconds for metrics.
type adapterCall struct {
	operation string
	invoke    func(ctx context.Context, a Adapter) (result any, tokens int, elapsedMs int, err error)
}

func classifyCall(req ClassifyRequest) adapterCall {
	return adapterCall{
		operation: "classify",
		invoke: func(ctx context.Context, a Adapter) (any, int, int, error) {
			outcome, err := a.Classify(ctx, req)
			if err != nil {
				return nil, 0, 0, err
			}
			return outcome, outcome.TokensUsed, outcome.ProcessingTimeMs, nil
		},
	}
}

func extractCall(req ExtractRequest) adapterCall {
	return adapterCall{
		operation: "extract",
		invoke: func(ctx context.Context, a Adapter) (any, int, int, error) {
			outcome, err := a.Extract(ctx, req)
			if err != nil {
				return nil, 0, 0, err
			}
			return outcome, outcome.TokensUsed, outcome.ProcessingTimeMs, nil
		},
	}
}

// Classify runs the plain fallback chain for classification. Used when no
// routing context (language) is known yet.
func (r *Router) Classify(ctx context.Context, req ClassifyRequest) (*ClassificationOutcome, *Selection, error) {
	result, sel, err := r.fallbackChain(ctx, classifyCall(req))
	if err != nil {
		return nil, nil, err
	}
	return result.(*ClassificationOutcome), sel, nil
}

// Extract runs the plain fallback chain for extraction.
func (r *Router) Extract(ctx context.Context, req ExtractRequest) (*ExtractionOutcome, *Selection, error) {
	result, sel, err := r.fallbackChain(ctx, extractCall(req))
	if err != nil {
		return nil, nil, err
	}
	return result.(*ExtractionOutcome), sel, nil
}

// ClassifyRouted classifies using routed selection for the given language
// and optional document type, falling back to the plain chain when routing
// yields no engine or the routed engine fails.
func (r *Router) ClassifyRouted(ctx context.Context, req ClassifyRequest, language string, documentTypeID *uuid.UUID) (*ClassificationOutcome, *Selection, error) {
	result, sel, err := r.routedCall(ctx, classifyCall(req), language, documentTypeID)
	if err != nil {
		return nil, nil, err
	}
	return result.(*ClassificationOutcome), sel, nil
}

// ExtractRouted extracts using routed selection for the given language and
// optional document type, falling back to the plain chain when routing
// yields no engine or the routed engine fails.
func (r *Router) ExtractRouted(ctx context.Context, req ExtractRequest, language string, documentTypeID *uuid.UUID) (*ExtractionOutcome, *Selection, error) {
	result, sel, err := r.routedCall(ctx, extractCall(req), language, documentTypeID)
	if err != nil {
		return nil, nil, err
	}
	return result.(*ExtractionOutcome), sel, nil
}

// HealthCheckAll probes every active engine concurrently and reports
// per-engine health. Probe failures are reported, never returned as the
// sweep's own error.
func (r *Router) HealthCheckAll(ctx context.Context) ([]EngineHealth, error) {
	configs, err := r.source.ActiveEngineConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load engine configs: %w", err)
	}

	results := make([]EngineHealth, len(configs))
	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg domain.EngineConfig) {
			defer wg.Done()
			results[i] = EngineHealth{EngineConfigID: cfg.ID, Name: cfg.Name, Healthy: true}
			if err := r.probe(ctx, cfg); err != nil {
				results[i].Healthy = false
				results[i].Error = err.Error()
			}
		}(i, cfg)
	}
	wg.Wait()

	return results, nil
}

// fallbackChain tries engines in fallback order (primary, fallback-flagged,
// then insertion order) and returns the first success. Exhaustion surfaces
// an EngineError naming the last failure.
func (r *Router) fallbackChain(ctx context.Context, call adapterCall) (any, *Selection, error) {
	configs, err := r.source.ActiveEngineConfigs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load engine configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, nil, domain.ErrNoEngines
	}

	ordered := fallbackOrder(configs)

	var lastErr error
	var lastName string
	for _, cfg := range ordered {
		result, err := r.executeOn(ctx, cfg, call, domain.ProvenanceFallback)
		if err == nil {
			return result, &Selection{
				EngineConfigID: cfg.ID,
				EngineName:     cfg.Name,
				Provenance:     domain.ProvenanceFallback,
			}, nil
		}
		lastErr = err
		lastName = cfg.Name
		r.logger.Warn().
			Err(err).
			Str("engine", cfg.Name).
			Str("operation", call.operation).
			Msg("Engine call failed, trying next candidate")
	}

	return nil, nil, domain.NewEngineError(lastName, call.operation, 0,
		fmt.Sprintf("all engines failed: last %v", lastErr), lastErr)
}

// routedCall performs routed selection and executes on the selected engine.
// Any routed failure degrades to the plain fallback chain.
func (r *Router) routedCall(ctx context.Context, call adapterCall, language string, documentTypeID *uuid.UUID) (any, *Selection, error) {
	cfg, provenance, ok := r.selectRouted(ctx, call.operation, language, documentTypeID)
	if ok {
		result, err := r.executeOn(ctx, *cfg, call, provenance)
		if err == nil {
			return result, &Selection{
				EngineConfigID: cfg.ID,
				EngineName:     cfg.Name,
				Provenance:     provenance,
			}, nil
		}
		r.logger.Warn().
			Err(err).
			Str("engine", cfg.Name).
			Str("operation", call.operation).
			Str("provenance", string(provenance)).
			Msg("Routed engine failed, degrading to fallback chain")
	}
	return r.fallbackChain(ctx, call)
}

// selectRouted picks an engine via routing rules, then composite scoring.
// It returns ok=false when neither strategy yields a healthy engine.
func (r *Router) selectRouted(ctx context.Context, operation, language string, documentTypeID *uuid.UUID) (*domain.EngineConfig, domain.Provenance, bool) {
	configs, err := r.source.ActiveEngineConfigs(ctx)
	if err != nil || len(configs) == 0 {
		return nil, "", false
	}
	byID := make(map[uuid.UUID]domain.EngineConfig, len(configs))
	for _, cfg := range configs {
		byID[cfg.ID] = cfg
	}

	scores, err := r.source.ActiveCapabilityScores(ctx, language)
	if err != nil {
		r.logger.Warn().Err(err).Str("language", language).Msg("Cannot load capability scores")
		scores = nil
	}
	best := bestScorePerEngine(scores, documentTypeID)

	// Strategy 1: explicit routing rules, highest priority first.
	rules, err := r.source.ActiveRoutingRules(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cannot load routing rules")
		rules = nil
	}
	matching := make([]domain.EngineRoutingRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Matches(language, documentTypeID) {
			matching = append(matching, rule)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority > matching[j].Priority
	})

	for _, rule := range matching {
		cfg, ok := byID[rule.EngineConfigID]
		if !ok {
			continue
		}
		if rule.MinConfidence > 0 {
			score, ok := best[cfg.ID]
			if !ok || score.AccuracyScore/100 < rule.MinConfidence {
				continue
			}
		}
		if err := r.probe(ctx, cfg); err != nil {
			r.logger.Debug().
				Err(err).
				Str("engine", cfg.Name).
				Str("operation", operation).
				Msg("Rule candidate failed health check")
			continue
		}
		return &cfg, domain.ProvenanceRule, true
	}

	// Strategy 2: composite scoring over the language's capability scores.
	for _, cfg := range compositeRanking(best, byID, r.loadPolicy(ctx)) {
		if err := r.probe(ctx, cfg); err != nil {
			r.logger.Debug().
				Err(err).
				Str("engine", cfg.Name).
				Str("operation", operation).
				Msg("Score candidate failed health check")
			continue
		}
		selected := cfg
		return &selected, domain.ProvenanceScore, true
	}

	return nil, "", false
}

func (r *Router) loadPolicy(ctx context.Context) domain.RoutingPolicy {
	policy, err := r.source.GetRoutingPolicy(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cannot load routing policy, using defaults")
		return domain.DefaultRoutingPolicy()
	}
	return policy
}

// executeOn builds the adapter for one engine and runs the call through its
// circuit breaker, recording metrics either way.
func (r *Router) executeOn(ctx context.Context, cfg domain.EngineConfig, call adapterCall, provenance domain.Provenance) (any, error) {
	adapter, err := r.adapterFor(cfg)
	if err != nil {
		return nil, err
	}

	breaker := r.breakerFor(cfg)
	start := time.Now()
	result, err := breaker.Execute(func() (any, error) {
		result, tokens, _, err := call.invoke(ctx, adapter)
		if err != nil {
			return nil, err
		}
		if r.metrics != nil {
			r.metrics.RecordEngineCall(cfg.Name, call.operation, string(provenance), time.Since(start).Seconds(), tokens)
		}
		return result, nil
	})
	if err != nil {
		r.recordFailure(cfg.Name, call.operation, err)
		return nil, err
	}
	return result, nil
}

// probe runs a short-timeout health check against one engine.
func (r *Router) probe(ctx context.Context, cfg domain.EngineConfig) error {
	adapter, err := r.adapterFor(cfg)
	if err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, r.opts.HealthCheckTimeout)
	defer cancel()
	return adapter.HealthCheck(probeCtx)
}

// adapterFor builds a fresh adapter for the config, attaching the engine's
// persistent rate limiter.
func (r *Router) adapterFor(cfg domain.EngineConfig) (Adapter, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = r.opts.FallbackAPIKey
	}
	return NewAdapter(cfg, AdapterOptions{
		Limiter: r.limiterFor(cfg.ID),
		Prompts: r.opts.Prompts,
		Timeout: r.opts.DefaultTimeout,
	})
}

func (r *Router) limiterFor(engineID uuid.UUID) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[engineID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.opts.RateLimitRPS), r.opts.RateLimitBurst)
		r.limiters[engineID] = limiter
	}
	return limiter
}

func (r *Router) breakerFor(cfg domain.EngineConfig) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()
	breaker, ok := r.breakers[cfg.ID]
	if !ok {
		name := cfg.Name
		threshold := r.opts.BreakerConsecutiveFailures
		breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    name,
			Timeout: r.opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// Input problems are the caller's fault and must not
				// poison the engine's breaker.
				return err == nil || errors.Is(err, domain.ErrInvalidInput)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.logger.Warn().
					Str("engine", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Engine circuit breaker state change")
			},
		})
		r.breakers[cfg.ID] = breaker
	}
	return breaker
}

func (r *Router) recordFailure(engineName, operation string, err error) {
	if r.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		r.metrics.RecordEngineBreakerOpen(engineName)
		r.metrics.RecordEngineCallFailed(engineName, operation, "breaker_open")
	case errors.Is(err, domain.ErrRateLimited):
		r.metrics.RecordEngineRateLimited(engineName)
		r.metrics.RecordEngineCallFailed(engineName, operation, "rate_limited")
	case errors.Is(err, domain.ErrEngineFailure):
		r.metrics.RecordEngineCallFailed(engineName, operation, "engine_error")
	default:
		r.metrics.RecordEngineCallFailed(engineName, operation, "other")
	}
}

// fallbackOrder sorts engines primary-first, then fallback-flagged, then
// insertion order. The sort is stable so equal-class engines keep the
// order the ConfigSource returned.
func fallbackOrder(configs []domain.EngineConfig) []domain.EngineConfig {
	ordered := make([]domain.EngineConfig, len(configs))
	copy(ordered, configs)
	rank := func(cfg domain.EngineConfig) int {
		switch {
		case cfg.IsPrimary:
			return 0
		case cfg.IsFallback:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}

// bestScorePerEngine picks each engine's most specific capability score:
// the exact document type row when present, else the wildcard row.
func bestScorePerEngine(scores []domain.EngineCapabilityScore, documentTypeID *uuid.UUID) map[uuid.UUID]domain.EngineCapabilityScore {
	best := make(map[uuid.UUID]domain.EngineCapabilityScore)
	for _, score := range scores {
		exact := score.DocumentTypeID != nil &&
			documentTypeID != nil &&
			*score.DocumentTypeID == *documentTypeID
		wildcard := score.DocumentTypeID == nil
		if !exact && !wildcard {
			continue
		}
		current, ok := best[score.EngineConfigID]
		if !ok {
			best[score.EngineConfigID] = score
			continue
		}
		currentExact := current.DocumentTypeID != nil
		if exact && !currentExact {
			best[score.EngineConfigID] = score
		}
	}
	return best
}

// compositeRanking orders candidate engines by composite score, highest
// first. normalizedCost inverts cost against the most expensive candidate;
// a zero max cost is treated as 1 to avoid dividing by zero.
func compositeRanking(best map[uuid.UUID]domain.EngineCapabilityScore, byID map[uuid.UUID]domain.EngineConfig, policy domain.RoutingPolicy) []domain.EngineConfig {
	maxCost := 0.0
	for engineID, score := range best {
		if _, ok := byID[engineID]; !ok {
			continue
		}
		if cost := score.CostPerPage.InexactFloat64(); cost > maxCost {
			maxCost = cost
		}
	}
	if maxCost == 0 {
		maxCost = 1
	}

	type ranked struct {
		cfg   domain.EngineConfig
		score float64
	}
	candidates := make([]ranked, 0, len(best))
	for engineID, score := range best {
		cfg, ok := byID[engineID]
		if !ok {
			continue
		}
		normalizedCost := (1 - score.CostPerPage.InexactFloat64()/maxCost) * 100
		composite := policy.AccuracyWeight*score.AccuracyScore +
			policy.CostWeight*normalizedCost +
			policy.SpeedWeight*score.SpeedScore
		candidates = append(candidates, ranked{cfg: cfg, score: composite})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].cfg.Name < candidates[j].cfg.Name
	})

	ordered := make([]domain.EngineConfig, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c.cfg)
	}
	return ordered
}
