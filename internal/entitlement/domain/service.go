package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound               = errors.New("account_not_found")
	ErrConflictRetryExhausted = errors.New("conflict_retry_exhausted")
	ErrVersionConflict        = errors.New("version_conflict")
	ErrNoChange               = errors.New("no_change")
	ErrAccountExists          = errors.New("account_exists")
	ErrInvalidEmail           = errors.New("invalid_email")
	ErrInvalidAccountID       = errors.New("invalid_account_id")
	ErrInvalidName            = errors.New("invalid_name")
	ErrInvalidCustomerRef     = errors.New("invalid_customer_ref")
)

// MutationFunc derives the next state of an account from the current one.
// Returning ErrNoChange skips the write; any other error aborts it.
type MutationFunc func(current Account) (Account, error)

// Store is the per-account atomic read-modify-write store.
type Store interface {
	Get(ctx context.Context, id snowflake.ID) (Account, error)
	ApplyAtomic(ctx context.Context, id snowflake.ID, fn MutationFunc) (Account, error)
	// WithTx binds the store to an open transaction. A version conflict on a
	// bound store returns ErrVersionConflict without retrying so the caller
	// can restart the whole transaction.
	WithTx(tx *gorm.DB) Store
	FindByCustomerRef(ctx context.Context, ref string) (Account, error)
	FindBySubscriptionRef(ctx context.Context, ref string) (Account, error)
	Create(ctx context.Context, account *Account) error
	ListForRollover(ctx context.Context, before time.Time, afterID snowflake.ID, limit int) ([]Account, error)
}

type ProvisionRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type ProfileUpdate struct {
	Name string `json:"name"`
}

// View is the entitlement summary returned to clients.
type View struct {
	AccountID        snowflake.ID `json:"account_id"`
	Plan             Plan         `json:"plan"`
	Status           Status       `json:"status"`
	Limits           Limits       `json:"limits"`
	MonthlyUsage     int64        `json:"monthly_usage"`
	RemainingUsage   int64        `json:"remaining_usage"`
	LastResetAt      time.Time    `json:"last_reset_at"`
	BillingPeriodEnd *time.Time   `json:"billing_period_end,omitempty"`
}

func NewView(a Account) View {
	return View{
		AccountID:        a.ID,
		Plan:             a.Plan,
		Status:           a.Status,
		Limits:           a.EffectiveLimits(),
		MonthlyUsage:     a.MonthlyUsage,
		RemainingUsage:   a.RemainingUsage(),
		LastResetAt:      a.LastResetAt,
		BillingPeriodEnd: a.BillingPeriodEnd,
	}
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Account, error)
	View(ctx context.Context, id snowflake.ID) (View, error)
	Provision(ctx context.Context, req ProvisionRequest) (Account, error)
	UpdateProfile(ctx context.Context, id snowflake.ID, req ProfileUpdate) (Account, error)
	// AttachCustomerRef records the provider customer for an account that
	// has none. An account that already has one keeps it.
	AttachCustomerRef(ctx context.Context, id snowflake.ID, ref string) (Account, error)
}
