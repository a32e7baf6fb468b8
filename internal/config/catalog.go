package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanPrice is a display price for one billing interval.
type PlanPrice struct {
	PriceID  string  `mapstructure:"price_id" json:"priceId"`
	Amount   float64 `mapstructure:"amount" json:"price"`
	Currency string  `mapstructure:"currency" json:"currency"`
}

// CatalogPlan describes a purchasable plan as shown to customers.
type CatalogPlan struct {
	Code     string    `mapstructure:"code" json:"code"`
	Name     string    `mapstructure:"name" json:"name"`
	Monthly  PlanPrice `mapstructure:"monthly" json:"monthly"`
	Yearly   PlanPrice `mapstructure:"yearly" json:"yearly"`
	Features []string  `mapstructure:"features" json:"features"`
}

// Catalog is the pricing catalog. Quota limits are not part of it; they come
// from the fixed plan table in the entitlement domain.
type Catalog struct {
	Plans []CatalogPlan `mapstructure:"plans" json:"plans"`
}

func (c Catalog) Plan(code string) (CatalogPlan, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, plan := range c.Plans {
		if strings.EqualFold(plan.Code, code) {
			return plan, true
		}
	}
	return CatalogPlan{}, false
}

// PlanForPrice finds the plan that sells priceID on either interval.
func (c Catalog) PlanForPrice(priceID string) (CatalogPlan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return CatalogPlan{}, false
	}
	for _, plan := range c.Plans {
		if plan.Monthly.PriceID == priceID || plan.Yearly.PriceID == priceID {
			return plan, true
		}
	}
	return CatalogPlan{}, false
}

func DefaultCatalog() Catalog {
	return Catalog{
		Plans: []CatalogPlan{
			{
				Code:    "pro",
				Name:    "Pro",
				Monthly: PlanPrice{PriceID: os.Getenv("STRIPE_PRO_MONTHLY_PRICE_ID"), Amount: 9.99, Currency: "usd"},
				Yearly:  PlanPrice{PriceID: os.Getenv("STRIPE_PRO_YEARLY_PRICE_ID"), Amount: 99.99, Currency: "usd"},
				Features: []string{
					"500 compressions/month",
					"100 saved contexts",
					"Priority support",
					"Advanced compression",
				},
			},
			{
				Code:    "enterprise",
				Name:    "Enterprise",
				Monthly: PlanPrice{PriceID: os.Getenv("STRIPE_ENTERPRISE_MONTHLY_PRICE_ID"), Amount: 29.99, Currency: "usd"},
				Yearly:  PlanPrice{PriceID: os.Getenv("STRIPE_ENTERPRISE_YEARLY_PRICE_ID"), Amount: 299.99, Currency: "usd"},
				Features: []string{
					"Unlimited compressions",
					"Unlimited saved contexts",
					"24/7 Priority support",
					"Team features",
					"API access",
				},
			},
		},
	}
}

// CatalogHolder keeps the latest valid catalog and swaps it on file changes.
type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.catalog")

	v := viper.New()
	if path := strings.TrimSpace(cfg.Billing.CatalogPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/contextswitch")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CONTEXTSWITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read plan catalog: %w", err)
		}
		holder.current.Store(DefaultCatalog())
		log.Info("plan catalog file not found, using defaults")
		return holder, nil
	}

	var catalog Catalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, fmt.Errorf("decode plan catalog: %w", err)
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Catalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Warn("plan catalog reload failed", zap.Error(err))
			return
		}
		if err := validateCatalog(updated); err != nil {
			log.Warn("invalid plan catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plan catalog reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticCatalogHolder returns a holder that never reloads.
func NewStaticCatalogHolder(catalog Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func (h *CatalogHolder) Get() Catalog {
	if h == nil {
		return DefaultCatalog()
	}
	return h.current.Load().(Catalog)
}

func validateCatalog(c Catalog) error {
	if len(c.Plans) == 0 {
		return errors.New("catalog.plans cannot be empty")
	}
	seen := map[string]struct{}{}
	for _, plan := range c.Plans {
		code := strings.ToLower(strings.TrimSpace(plan.Code))
		if code == "" {
			return errors.New("catalog.plans[].code is required")
		}
		if _, ok := seen[code]; ok {
			return fmt.Errorf("duplicate catalog plan %q", code)
		}
		seen[code] = struct{}{}
	}
	return nil
}
