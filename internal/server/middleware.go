package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/contextswitch/internal/auth/domain"
	obscontext "github.com/smallbiznis/contextswitch/internal/observability/context"
)

const (
	HeaderAdminToken    = "X-Admin-Token"
	contextAccountIDKey = "account_id"
	contextEmailKey     = "account_email"
)

// BearerAuthRequired resolves the calling account from an
// "Authorization: Bearer <jwt>" header.
func (s *Server) BearerAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, authdomain.ErrMissingToken)
			return
		}

		principal, err := s.verifier.Verify(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextAccountIDKey, principal.AccountID)
		c.Set(contextEmailKey, principal.Email)

		ctx := obscontext.WithAccountID(c.Request.Context(), principal.AccountID.String())
		ctx = obscontext.WithActor(ctx, "account", principal.AccountID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminRequired guards operator endpoints with the shared admin token, sent
// either as X-Admin-Token or as a bearer token.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(HeaderAdminToken))
		if token == "" {
			token = bearerToken(c)
		}
		if err := s.verifier.VerifyAdmin(token); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "admin", ""))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

func accountIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextAccountIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok && id != 0
}
