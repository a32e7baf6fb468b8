package adapters

import (
	"errors"
	"testing"

	"github.com/smallbiznis/contextswitch/internal/payment/adapters/stripe"
	"github.com/smallbiznis/contextswitch/internal/payment/domain"
)

func TestRegistryBuildsConfiguredProvidersOnce(t *testing.T) {
	registry := NewRegistry([]domain.AdapterConfig{{
		Provider: " STRIPE ",
		Config:   map[string]any{"webhook_secret": "whsec"},
	}}, stripe.NewFactory(), nil)

	if got := registry.Providers(); len(got) != 1 || got[0] != "stripe" {
		t.Fatalf("unexpected providers %v", got)
	}
	first, err := registry.Adapter("stripe")
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	second, err := registry.Adapter("Stripe")
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached adapter")
	}
}

func TestRegistryUnconfiguredProvider(t *testing.T) {
	registry := NewRegistry(nil, stripe.NewFactory())
	if registry.ProviderExists("stripe") {
		t.Fatalf("provider without config should not exist")
	}
	if _, err := registry.Adapter("stripe"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}

	var nilRegistry *Registry
	if _, err := nilRegistry.Adapter("stripe"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found on nil registry, got %v", err)
	}
}

func TestRegistryInvalidConfig(t *testing.T) {
	registry := NewRegistry([]domain.AdapterConfig{{Provider: "stripe", Config: map[string]any{}}}, stripe.NewFactory())
	if _, err := registry.Adapter("stripe"); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
