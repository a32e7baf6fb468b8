package adapters

import (
	"slices"
	"strings"
	"sync"

	"github.com/smallbiznis/contextswitch/internal/payment/domain"
)

// Registry builds one adapter per configured provider on first use.
type Registry struct {
	factories map[string]domain.AdapterFactory
	configs   map[string]domain.AdapterConfig

	mu    sync.Mutex
	built map[string]domain.WebhookAdapter
}

func NewRegistry(configs []domain.AdapterConfig, factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.AdapterFactory{},
		configs:   map[string]domain.AdapterConfig{},
		built:     map[string]domain.WebhookAdapter{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	for _, cfg := range configs {
		provider := normalize(cfg.Provider)
		if provider == "" {
			continue
		}
		cfg.Provider = provider
		registry.configs[provider] = cfg
	}
	return registry
}

// Providers lists providers that have both a factory and a config.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.configs))
	for provider := range r.configs {
		if _, ok := r.factories[provider]; ok {
			out = append(out, provider)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Registry) ProviderExists(provider string) bool {
	return slices.Contains(r.Providers(), normalize(provider))
}

func (r *Registry) Adapter(provider string) (domain.WebhookAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.built[provider]; ok {
		return adapter, nil
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	adapter, err := factory.NewAdapter(cfg)
	if err != nil {
		return nil, err
	}
	r.built[provider] = adapter
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
