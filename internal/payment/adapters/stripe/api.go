package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/contextswitch/internal/config"
	obstracing "github.com/smallbiznis/contextswitch/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
)

const (
	defaultAPIBase = "https://api.stripe.com"
	maxAPIBody     = 1 << 20
	maxAPIErrBody  = 4 << 10
)

// APIClient calls the Stripe REST API with form-encoded requests.
type APIClient struct {
	base      string
	secretKey string
	http      *http.Client
}

// NewAPIClientFromConfig returns nil when no secret key is configured.
func NewAPIClientFromConfig(cfg config.Config) paymentdomain.BillingAPI {
	key := strings.TrimSpace(cfg.Billing.StripeSecretKey)
	if key == "" {
		return nil
	}
	timeout := cfg.Billing.APITimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewAPIClient(cfg.Billing.StripeAPIBase, key,
		obstracing.WrapHTTPClient(&http.Client{Timeout: timeout}))
}

func NewAPIClient(base, secretKey string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultAPIBase
	}
	return &APIClient{
		base:      base,
		secretKey: strings.TrimSpace(secretKey),
		http:      httpClient,
	}
}

type apiObject struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *APIClient) CreateCustomer(ctx context.Context, req paymentdomain.CustomerRequest) (string, error) {
	form := url.Values{}
	form.Set("email", req.Email)
	if name := strings.TrimSpace(req.Name); name != "" {
		form.Set("name", name)
	}
	form.Set("metadata[account_id]", req.AccountID)
	form.Set("metadata[userId]", req.AccountID)

	// one customer per account even when two checkouts race
	var out apiObject
	if err := c.post(ctx, "/v1/customers", form, "customer-"+req.AccountID, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: customer response without id", paymentdomain.ErrBillingUnavailable)
	}
	return out.ID, nil
}

func (c *APIClient) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutRequest) (paymentdomain.CheckoutSession, error) {
	form := url.Values{}
	form.Set("customer", req.CustomerRef)
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", req.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("allow_promotion_codes", "true")
	for key, value := range req.Metadata {
		form.Set("metadata["+key+"]", value)
		form.Set("subscription_data[metadata]["+key+"]", value)
	}

	var out apiObject
	if err := c.post(ctx, "/v1/checkout/sessions", form, "", &out); err != nil {
		return paymentdomain.CheckoutSession{}, err
	}
	if out.URL == "" {
		return paymentdomain.CheckoutSession{}, fmt.Errorf("%w: checkout session without url", paymentdomain.ErrBillingUnavailable)
	}
	return paymentdomain.CheckoutSession{SessionID: out.ID, URL: out.URL}, nil
}

func (c *APIClient) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (paymentdomain.PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerRef)
	form.Set("return_url", returnURL)

	var out apiObject
	if err := c.post(ctx, "/v1/billing_portal/sessions", form, "", &out); err != nil {
		return paymentdomain.PortalSession{}, err
	}
	if out.URL == "" {
		return paymentdomain.PortalSession{}, fmt.Errorf("%w: portal session without url", paymentdomain.ErrBillingUnavailable)
	}
	return paymentdomain.PortalSession{URL: out.URL}, nil
}

func (c *APIClient) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	if c.secretKey == "" {
		return paymentdomain.ErrBillingNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrBillingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxAPIErrBody))
		message := strings.TrimSpace(string(body))
		var upstream apiError
		if json.Unmarshal(body, &upstream) == nil && upstream.Error.Message != "" {
			message = upstream.Error.Message
		}
		return fmt.Errorf("%w: %s %d: %s", paymentdomain.ErrBillingUnavailable, path, resp.StatusCode, message)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", paymentdomain.ErrBillingUnavailable, path, err)
	}
	return nil
}
