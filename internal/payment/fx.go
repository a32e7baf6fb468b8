package payment

import (
	"strings"

	"github.com/smallbiznis/contextswitch/internal/config"
	"github.com/smallbiznis/contextswitch/internal/payment/adapters"
	"github.com/smallbiznis/contextswitch/internal/payment/adapters/stripe"
	"github.com/smallbiznis/contextswitch/internal/payment/checkout"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
	"github.com/smallbiznis/contextswitch/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(NewRegistry),
	fx.Provide(webhook.NewService),
	fx.Provide(stripe.NewAPIClientFromConfig),
	fx.Provide(checkout.NewService),
)

// NewRegistry registers every provider whose secret is configured.
func NewRegistry(cfg config.Config) *adapters.Registry {
	var configs []paymentdomain.AdapterConfig
	if secret := strings.TrimSpace(cfg.Billing.StripeWebhookSecret); secret != "" {
		configs = append(configs, paymentdomain.AdapterConfig{
			Provider:  stripe.ProviderName,
			Config:    map[string]any{"webhook_secret": secret},
			Tolerance: cfg.Billing.SignatureTolerance,
		})
	}
	return adapters.NewRegistry(configs, stripe.NewFactory())
}
