package engine

import (
	"fmt"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// AdapterFactory constructs an Adapter for one engine config.
type AdapterFactory func(cfg domain.EngineConfig, opts AdapterOptions) Adapter

// adapterRegistry maps adapter kinds to factories. Kinds that speak the
// same wire protocol alias the same factory: openai, deepseek, and
// openrouter all use the OpenAI-compatible adapter with different
// endpoints and credentials.
var adapterRegistry = map[domain.AdapterKind]AdapterFactory{
	domain.AdapterKindMistral:    NewMistralAdapter,
	domain.AdapterKindOpenAI:     NewOpenAICompatibleAdapter,
	domain.AdapterKindDeepSeek:   NewOpenAICompatibleAdapter,
	domain.AdapterKindOpenRouter: NewOpenAICompatibleAdapter,
}

// NewAdapter builds the adapter for an engine config, resolving its kind
// through the registry.
func NewAdapter(cfg domain.EngineConfig, opts AdapterOptions) (Adapter, error) {
	factory, ok := adapterRegistry[cfg.AdapterKind]
	if !ok {
		return nil, fmt.Errorf("unsupported adapter kind: %q", cfg.AdapterKind)
	}
	return factory(cfg, opts), nil
}

// SupportedAdapterKinds lists the kinds the registry can resolve.
func SupportedAdapterKinds() []domain.AdapterKind {
	kinds := make([]domain.AdapterKind, 0, len(adapterRegistry))
	for kind := range adapterRegistry {
		kinds = append(kinds, kind)
	}
	return kinds
}
