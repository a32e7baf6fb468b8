package service

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/contextswitch/internal/auth/domain"
	"github.com/smallbiznis/contextswitch/internal/clock"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewWithSecret("s3cret", "contextswitch", "", clk)

	token, err := svc.Issue(snowflake.ID(1794612345678901248), "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	principal, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.AccountID != 1794612345678901248 || principal.Email != "a@example.com" {
		t.Fatalf("unexpected principal %+v", principal)
	}

	clk.Advance(2 * time.Hour)
	if _, err := svc.Verify(token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestVerifyAcceptsLegacyUserIDClaim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewWithSecret("s3cret", "", "", clock.NewFakeClock(now))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "42",
		"exp":    now.Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	principal, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.AccountID != 42 {
		t.Fatalf("unexpected account %s", principal.AccountID)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewWithSecret("s3cret", "contextswitch", "", clock.NewFakeClock(now))

	sign := func(method jwt.SigningMethod, key any, c jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(method, c).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}
	exp := now.Add(time.Hour).Unix()

	cases := map[string]string{
		"wrong secret": sign(jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "1", "iss": "contextswitch", "exp": exp}),
		"wrong issuer": sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": "1", "iss": "else", "exp": exp}),
		"no expiry":    sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": "1", "iss": "contextswitch"}),
		"bad subject":  sign(jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": "abc", "iss": "contextswitch", "exp": exp}),
		"other method": sign(jwt.SigningMethodHS512, []byte("s3cret"), jwt.MapClaims{"sub": "1", "iss": "contextswitch", "exp": exp}),
		"not a token":  "abc.def.ghi",
	}
	for name, token := range cases {
		if _, err := svc.Verify(token); !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("%s: expected invalid token, got %v", name, err)
		}
	}
	if _, err := svc.Verify(""); !errors.Is(err, domain.ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := NewWithSecret("", "", "", nil).Verify("x"); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestVerifyAdmin(t *testing.T) {
	svc := NewWithSecret("s", "", "admin-token", nil)
	if err := svc.VerifyAdmin("admin-token"); err != nil {
		t.Fatalf("expected admin ok, got %v", err)
	}
	if err := svc.VerifyAdmin("nope"); !errors.Is(err, domain.ErrInvalidAdminKey) {
		t.Fatalf("expected invalid admin key, got %v", err)
	}
	if err := NewWithSecret("s", "", "", nil).VerifyAdmin(""); !errors.Is(err, domain.ErrInvalidAdminKey) {
		t.Fatalf("expected invalid admin key when unset")
	}
}
