package service

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/contextswitch/internal/auth/domain"
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/config"
)

const DefaultTokenTTL = 30 * 24 * time.Hour

// claims accepts both "sub" and the legacy "userId" claim for the account.
type claims struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	secret     []byte
	issuer     string
	adminToken string
	clock      clock.Clock
}

func New(cfg config.Config, clk clock.Clock) domain.Verifier {
	return NewWithSecret(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AdminToken, clk)
}

func NewWithSecret(secret, issuer, adminToken string, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		secret:     []byte(strings.TrimSpace(secret)),
		issuer:     strings.TrimSpace(issuer),
		adminToken: strings.TrimSpace(adminToken),
		clock:      clk,
	}
}

func (s *Service) Verify(token string) (domain.Principal, error) {
	if len(s.secret) == 0 {
		return domain.Principal{}, domain.ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, domain.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Principal{}, domain.ErrTokenExpired
		}
		return domain.Principal{}, domain.ErrInvalidToken
	}

	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		subject = strings.TrimSpace(parsed.UserID)
	}
	accountID, err := snowflake.ParseString(subject)
	if err != nil || accountID <= 0 {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	principal := domain.Principal{AccountID: accountID, Email: parsed.Email}
	if parsed.ExpiresAt != nil {
		principal.ExpiresAt = parsed.ExpiresAt.Time
	}
	return principal, nil
}

// Issue signs an HS256 token for accountID. Used by the admin CLI.
func (s *Service) Issue(accountID snowflake.ID, email string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", domain.ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.clock.Now()
	c := claims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Service) VerifyAdmin(token string) error {
	token = strings.TrimSpace(token)
	if s.adminToken == "" || token == "" {
		return domain.ErrInvalidAdminKey
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return domain.ErrInvalidAdminKey
	}
	return nil
}
