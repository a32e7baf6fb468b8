// Package domain contains the account entitlement model and plan table.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Unlimited marks a limit that is never enforced.
const Unlimited int64 = -1

type Limits struct {
	MaxUsagePerMonth   int64 `json:"max_usage_per_month"`
	MaxStoredArtifacts int64 `json:"max_stored_artifacts"`
}

// PlanLimits is the fixed plan table. Billing never overrides it.
var PlanLimits = map[Plan]Limits{
	PlanFree:       {MaxUsagePerMonth: 50, MaxStoredArtifacts: 10},
	PlanPro:        {MaxUsagePerMonth: 500, MaxStoredArtifacts: 100},
	PlanEnterprise: {MaxUsagePerMonth: Unlimited, MaxStoredArtifacts: Unlimited},
}

// ParsePlan reports whether value names a known plan.
func ParsePlan(value string) (Plan, bool) {
	plan := Plan(strings.ToLower(strings.TrimSpace(value)))
	_, ok := PlanLimits[plan]
	return plan, ok
}

// LimitsFor returns the table row for plan, falling back to free.
func LimitsFor(plan Plan) Limits {
	if limits, ok := PlanLimits[plan]; ok {
		return limits
	}
	return PlanLimits[PlanFree]
}

// AllowsUsage reports whether amount more units fit on top of used.
func (l Limits) AllowsUsage(used, amount int64) bool {
	if l.MaxUsagePerMonth == Unlimited {
		return true
	}
	return used+amount <= l.MaxUsagePerMonth
}

// AllowsArtifacts reports whether one more artifact fits on top of stored.
func (l Limits) AllowsArtifacts(stored int64) bool {
	if l.MaxStoredArtifacts == Unlimited {
		return true
	}
	return stored < l.MaxStoredArtifacts
}

// Account is the entitlement record for one user.
type Account struct {
	ID    snowflake.ID `gorm:"primaryKey" json:"id"`
	Email string       `gorm:"type:varchar(320);uniqueIndex;not null" json:"email"`
	Name  string       `gorm:"type:varchar(255)" json:"name"`

	Plan   Plan   `gorm:"type:varchar(32);not null" json:"plan"`
	Status Status `gorm:"type:varchar(32);not null" json:"status"`

	BillingCustomerRef     *string `gorm:"type:varchar(255);uniqueIndex" json:"billing_customer_ref,omitempty"`
	BillingSubscriptionRef *string `gorm:"type:varchar(255);uniqueIndex" json:"billing_subscription_ref,omitempty"`

	MaxUsagePerMonth   int64 `gorm:"not null" json:"max_usage_per_month"`
	MaxStoredArtifacts int64 `gorm:"not null" json:"max_stored_artifacts"`

	MonthlyUsage              int64      `gorm:"not null;default:0" json:"monthly_usage"`
	TotalCompressions         int64      `gorm:"not null;default:0" json:"total_compressions"`
	TotalContextsSaved        int64      `gorm:"not null;default:0" json:"total_contexts_saved"`
	TotalTokensSaved          int64      `gorm:"not null;default:0" json:"total_tokens_saved"`
	TotalCharactersCompressed int64      `gorm:"not null;default:0" json:"total_characters_compressed"`
	LastUsageAt               *time.Time `json:"last_usage_at,omitempty"`
	LastResetAt               time.Time  `gorm:"not null;index" json:"last_reset_at"`

	SubscriptionStartedAt *time.Time `json:"subscription_started_at,omitempty"`
	BillingPeriodEnd      *time.Time `json:"billing_period_end,omitempty"`

	Version   int64     `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// ApplyPlan switches plan and rewrites both stored limits from the table.
func (a *Account) ApplyPlan(plan Plan) {
	limits := LimitsFor(plan)
	a.Plan = plan
	a.MaxUsagePerMonth = limits.MaxUsagePerMonth
	a.MaxStoredArtifacts = limits.MaxStoredArtifacts
}

// EffectiveLimits returns the limits enforced right now. Only active and
// trial accounts get their plan row; everything else is held to free.
func (a Account) EffectiveLimits() Limits {
	switch a.Status {
	case StatusActive, StatusTrial:
		return Limits{MaxUsagePerMonth: a.MaxUsagePerMonth, MaxStoredArtifacts: a.MaxStoredArtifacts}
	default:
		return PlanLimits[PlanFree]
	}
}

// RemainingUsage is Unlimited or the non-negative headroom for this period.
func (a Account) RemainingUsage() int64 {
	limits := a.EffectiveLimits()
	if limits.MaxUsagePerMonth == Unlimited {
		return Unlimited
	}
	return max(limits.MaxUsagePerMonth-a.MonthlyUsage, 0)
}

// NewFreeAccount builds an active free account that starts its period at now.
func NewFreeAccount(id snowflake.ID, email, name string, now time.Time) Account {
	account := Account{
		ID:          id,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		Name:        strings.TrimSpace(name),
		Status:      StatusActive,
		LastResetAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	account.ApplyPlan(PlanFree)
	return account
}
