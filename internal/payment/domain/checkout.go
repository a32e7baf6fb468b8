package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrBillingNotConfigured = errors.New("billing_not_configured")
	ErrBillingUnavailable   = errors.New("billing_unavailable")
	ErrNoBillingCustomer    = errors.New("no_billing_customer")
	ErrUnknownPrice         = errors.New("unknown_price")
)

type CustomerRequest struct {
	AccountID string
	Email     string
	Name      string
}

// CheckoutRequest opens a hosted subscription checkout. Metadata is copied
// to both the session and the subscription it creates.
type CheckoutRequest struct {
	CustomerRef string
	PriceID     string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PortalSession struct {
	URL string `json:"url"`
}

// BillingAPI is the outbound side of a billing provider.
type BillingAPI interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (PortalSession, error)
}

type StartCheckoutRequest struct {
	PriceID string `json:"price_id"`
}

type CheckoutService interface {
	StartCheckout(ctx context.Context, accountID snowflake.ID, req StartCheckoutRequest) (CheckoutSession, error)
	OpenPortal(ctx context.Context, accountID snowflake.ID) (PortalSession, error)
}
