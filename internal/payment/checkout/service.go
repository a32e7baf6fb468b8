// Package checkout starts hosted checkout and billing-portal sessions for
// signed-in accounts. Entitlements change only when the resulting webhooks
// arrive.
package checkout

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/config"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg          config.Config
	Log          *zap.Logger
	Entitlements entitlementdomain.Service
	Catalog      *config.CatalogHolder
	API          paymentdomain.BillingAPI `optional:"true"`
}

type Service struct {
	api          paymentdomain.BillingAPI
	entitlements entitlementdomain.Service
	catalog      *config.CatalogHolder
	frontendURL  string
	log          *zap.Logger
}

func NewService(p Params) paymentdomain.CheckoutService {
	return &Service{
		api:          p.API,
		entitlements: p.Entitlements,
		catalog:      p.Catalog,
		frontendURL:  strings.TrimRight(p.Cfg.Billing.FrontendURL, "/"),
		log:          p.Log.Named("payment.checkout"),
	}
}

// StartCheckout opens a subscription checkout for a catalog price. The
// account id and plan code ride along as metadata so the webhook can
// resolve the account and the purchased tier.
func (s *Service) StartCheckout(ctx context.Context, accountID snowflake.ID, req paymentdomain.StartCheckoutRequest) (paymentdomain.CheckoutSession, error) {
	if s.api == nil {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrBillingNotConfigured
	}
	priceID := strings.TrimSpace(req.PriceID)
	plan, ok := s.catalog.Get().PlanForPrice(priceID)
	if !ok {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrUnknownPrice
	}

	account, err := s.entitlements.Get(ctx, accountID)
	if err != nil {
		return paymentdomain.CheckoutSession{}, err
	}
	customerRef, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return paymentdomain.CheckoutSession{}, err
	}

	planCode := strings.ToLower(strings.TrimSpace(plan.Code))
	session, err := s.api.CreateCheckoutSession(ctx, paymentdomain.CheckoutRequest{
		CustomerRef: customerRef,
		PriceID:     priceID,
		SuccessURL:  s.frontendURL + "/profile?session_id={CHECKOUT_SESSION_ID}&success=true",
		CancelURL:   s.frontendURL + "/pricing?canceled=true",
		Metadata: map[string]string{
			"account_id": account.ID.String(),
			"planType":   planCode,
		},
	})
	if err != nil {
		return paymentdomain.CheckoutSession{}, err
	}

	s.log.Info("checkout session created",
		zap.String("account_id", account.ID.String()),
		zap.String("plan", planCode),
		zap.String("session_id", session.SessionID),
	)
	return session, nil
}

func (s *Service) OpenPortal(ctx context.Context, accountID snowflake.ID) (paymentdomain.PortalSession, error) {
	if s.api == nil {
		return paymentdomain.PortalSession{}, paymentdomain.ErrBillingNotConfigured
	}
	account, err := s.entitlements.Get(ctx, accountID)
	if err != nil {
		return paymentdomain.PortalSession{}, err
	}
	if account.BillingCustomerRef == nil || *account.BillingCustomerRef == "" {
		return paymentdomain.PortalSession{}, paymentdomain.ErrNoBillingCustomer
	}
	return s.api.CreatePortalSession(ctx, *account.BillingCustomerRef, s.frontendURL+"/profile")
}

func (s *Service) ensureCustomer(ctx context.Context, account entitlementdomain.Account) (string, error) {
	if account.BillingCustomerRef != nil && *account.BillingCustomerRef != "" {
		return *account.BillingCustomerRef, nil
	}
	ref, err := s.api.CreateCustomer(ctx, paymentdomain.CustomerRequest{
		AccountID: account.ID.String(),
		Email:     account.Email,
		Name:      account.Name,
	})
	if err != nil {
		return "", err
	}
	updated, err := s.entitlements.AttachCustomerRef(ctx, account.ID, ref)
	if err != nil {
		return "", err
	}
	return *updated.BillingCustomerRef, nil
}
