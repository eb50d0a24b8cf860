package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Adapter is the uniform capability every vendor backend is normalized to.
// Implementations translate these calls into vendor-specific HTTP requests
// and map vendor errors onto domain.EngineError.
type Adapter interface {
	// Classify asks the engine to match the image against the candidate
	// document types.
	Classify(ctx context.Context, req ClassifyRequest) (*ClassificationOutcome, error)
	// Extract asks the engine to fill the extraction template from the image.
	Extract(ctx context.Context, req ExtractRequest) (*ExtractionOutcome, error)
	// HealthCheck probes the engine with a cheap request. A nil return
	// means the engine is usable.
	HealthCheck(ctx context.Context) error
	// Name returns the configured engine name, used in errors and metrics.
	Name() string
}

// AdapterOptions carries the shared collaborators an adapter needs beyond
// its EngineConfig row. The router owns the rate limiter so the token
// bucket survives across per-call adapter construction.
type AdapterOptions struct {
	// Limiter throttles outbound calls to the vendor. Nil disables
	// throttling.
	Limiter *rate.Limiter
	// Prompts resolves classify/extract prompt text. Nil falls back to the
	// bundled defaults.
	Prompts PromptResolver
	// Timeout overrides the engine's configured per-call timeout when the
	// config row carries none.
	Timeout time.Duration
}

// Default adapter tuning shared across vendors.
const (
	defaultAdapterTimeout  = 60 * time.Second
	defaultMaxTokens       = 4096
	maxResponseBytes       = 10 << 20
	healthCheckProbeTokens = 1
)

// newAdapterHTTPClient builds the HTTP client all adapters use. The
// per-call timeout comes from the engine config, falling back to the
// option and then the package default.
func newAdapterHTTPClient(cfg domain.EngineConfig, opts AdapterOptions) *http.Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = opts.Timeout
	}
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// waitForLimiter blocks until the adapter's rate limiter admits the call.
func waitForLimiter(ctx context.Context, limiter *rate.Limiter, engineName string) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter wait: %w", engineName, err)
	}
	return nil
}

// imageDataURI encodes file content as a data URI for vision message parts.
func imageDataURI(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func resolvePrompts(opts AdapterOptions) PromptResolver {
	if opts.Prompts != nil {
		return opts.Prompts
	}
	return DefaultPrompts()
}
