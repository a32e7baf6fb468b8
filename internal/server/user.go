package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/pkg/db/pagination"
)

type profileUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type profileUsage struct {
	MonthlyUsage              int64      `json:"monthly_usage"`
	TotalCompressions         int64      `json:"total_compressions"`
	TotalContextsSaved        int64      `json:"total_contexts_saved"`
	TotalTokensSaved          int64      `json:"total_tokens_saved"`
	TotalCharactersCompressed int64      `json:"total_characters_compressed"`
	LastUsageAt               *time.Time `json:"last_usage_at,omitempty"`
	LastResetAt               time.Time  `json:"last_reset_at"`
}

// GetEntitlement reads the caller's plan and remaining usage. A stale
// period is rolled over first.
func (s *Server) GetEntitlement(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	view, err := s.entitlements.View(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetProfile(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ctx := c.Request.Context()
	account, err := s.entitlements.Get(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	stats, err := s.artifacts.Stats(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	recent, err := s.artifacts.Recent(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user": profileUser{
			ID:        account.ID.String(),
			Email:     account.Email,
			Name:      account.Name,
			CreatedAt: account.CreatedAt,
		},
		"entitlement": entitlementdomain.NewView(account),
		"usage": profileUsage{
			MonthlyUsage:              account.MonthlyUsage,
			TotalCompressions:         account.TotalCompressions,
			TotalContextsSaved:        account.TotalContextsSaved,
			TotalTokensSaved:          account.TotalTokensSaved,
			TotalCharactersCompressed: account.TotalCharactersCompressed,
			LastUsageAt:               account.LastUsageAt,
			LastResetAt:               account.LastResetAt,
		},
		"context_stats":   stats,
		"recent_activity": recent,
	}})
}

func (s *Server) UpdateProfile(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req entitlementdomain.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.entitlements.UpdateProfile(c.Request.Context(), accountID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user": profileUser{
			ID:        account.ID.String(),
			Email:     account.Email,
			Name:      account.Name,
			CreatedAt: account.CreatedAt,
		},
	}})
}

func (s *Server) ListHistory(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page", "invalid_pagination", "page and limit must be integers"))
		return
	}

	items, pageInfo, err := s.artifacts.History(c.Request.Context(), accountID, page.Normalize())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      items,
		"page_info": pageInfo,
	})
}
