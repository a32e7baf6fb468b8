package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contextswitch/internal/config"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook hands the raw body to the provider adapter, which
// must see the exact bytes that were signed.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.payments.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"event_id": result.EventID,
		"outcome":  result.Outcome,
	})
}

type planResponse struct {
	Code     string                   `json:"code"`
	Name     string                   `json:"name"`
	Monthly  *config.PlanPrice        `json:"monthly,omitempty"`
	Yearly   *config.PlanPrice        `json:"yearly,omitempty"`
	Features []string                 `json:"features"`
	Limits   entitlementdomain.Limits `json:"limits"`
}

// ListPlans joins the display catalog with the fixed quota table. Free is
// always listed first and has no prices.
func (s *Server) ListPlans(c *gin.Context) {
	catalog := s.catalog.Get()

	plans := make([]planResponse, 0, len(catalog.Plans)+1)
	plans = append(plans, planResponse{
		Code:     string(entitlementdomain.PlanFree),
		Name:     "Free",
		Features: []string{},
		Limits:   entitlementdomain.LimitsFor(entitlementdomain.PlanFree),
	})
	for _, plan := range catalog.Plans {
		code, ok := entitlementdomain.ParsePlan(plan.Code)
		if !ok || code == entitlementdomain.PlanFree {
			continue
		}
		features := plan.Features
		if features == nil {
			features = []string{}
		}
		plans = append(plans, planResponse{
			Code:     string(code),
			Name:     plan.Name,
			Monthly:  &plan.Monthly,
			Yearly:   &plan.Yearly,
			Features: features,
			Limits:   entitlementdomain.LimitsFor(code),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

// CreateCheckoutSession returns a hosted checkout URL. The plan changes only
// once the provider confirms payment through the webhook.
func (s *Server) CreateCheckoutSession(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentdomain.StartCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.PriceID) == "" {
		AbortWithError(c, newValidationError("price_id", "required", "price id is required"))
		return
	}

	session, err := s.checkout.StartCheckout(c.Request.Context(), accountID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) CreatePortalSession(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	portal, err := s.checkout.OpenPortal(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": portal})
}

type subscriptionStatus struct {
	Plan       entitlementdomain.Plan   `json:"plan"`
	Status     entitlementdomain.Status `json:"status"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	PeriodEnd  *time.Time               `json:"period_end,omitempty"`
	Manageable bool                     `json:"manageable"`
}

func (s *Server) GetSubscriptionStatus(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	account, err := s.entitlements.Get(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"subscription": subscriptionStatus{
			Plan:       account.Plan,
			Status:     account.Status,
			StartedAt:  account.SubscriptionStartedAt,
			PeriodEnd:  account.BillingPeriodEnd,
			Manageable: account.BillingCustomerRef != nil && *account.BillingCustomerRef != "",
		},
		"entitlement": entitlementdomain.NewView(account),
	}})
}
