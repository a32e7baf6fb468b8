// Package domain defines the usage gate contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlement "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
)

var (
	ErrQuotaExceeded = errors.New("quota_exceeded")
	ErrInvalidAmount = errors.New("invalid_amount")
)

// Admission describes the account right after a gate decision. On
// ErrQuotaExceeded it reflects the unchanged usage.
type Admission struct {
	AccountID  snowflake.ID       `json:"account_id"`
	Plan       entitlement.Plan   `json:"plan"`
	Status     entitlement.Status `json:"status"`
	Used       int64              `json:"used"`
	Limit      int64              `json:"limit"`
	Remaining  int64              `json:"remaining"`
	AdmittedAt time.Time          `json:"admitted_at"`
}

// Stats are the savings recorded after a successful compression.
type Stats struct {
	TokensSaved          int64
	CharactersCompressed int64
}

type Gate interface {
	// TryConsume admits amount units against the monthly limit. Rollover,
	// limit check and increment happen in one atomic step.
	TryConsume(ctx context.Context, accountID snowflake.ID, amount int64) (Admission, error)
	// Release refunds an admission whose work failed. Refunds never cross a
	// period boundary and never drive usage below zero.
	Release(ctx context.Context, accountID snowflake.ID, amount int64, admittedAt time.Time) error
	RecordStats(ctx context.Context, accountID snowflake.ID, stats Stats) error
	RecordSaved(ctx context.Context, accountID snowflake.ID) error
}
