// Package domain contains core types for bearer authentication.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Principal is the authenticated caller of an account-scoped endpoint.
type Principal struct {
	AccountID snowflake.ID
	Email     string
	ExpiresAt time.Time
}

type Verifier interface {
	Verify(token string) (Principal, error)
	Issue(accountID snowflake.ID, email string, ttl time.Duration) (string, error)
	VerifyAdmin(token string) error
}
