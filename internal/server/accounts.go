package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/observability/logger"
	"go.uber.org/zap"
)

type createAccountRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	TokenTTL string `json:"token_ttl"`
}

// CreateAccount provisions a free account and returns a bearer token for it.
func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var ttl time.Duration
	if req.TokenTTL != "" {
		parsed, err := time.ParseDuration(req.TokenTTL)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("token_ttl", "invalid_duration", "token_ttl must be a positive duration"))
			return
		}
		ttl = parsed
	}

	ctx := c.Request.Context()
	account, err := s.entitlements.Provision(ctx, entitlementdomain.ProvisionRequest{
		Email: req.Email,
		Name:  req.Name,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	token, err := s.verifier.Issue(account.ID, account.Email, ttl)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.WithContext(ctx, s.log).Info("account provisioned",
		zap.String("account_id", account.ID.String()),
	)

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"account":      entitlementdomain.NewView(account),
		"email":        account.Email,
		"access_token": token,
	}})
}
