// Package reconcile maps billing events onto entitlement state transitions.
// Everything here is pure: callers supply the current account and the clock.
package reconcile

import (
	"errors"
	"strings"
	"time"

	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
)

var (
	ErrUnresolvable      = errors.New("unresolvable_account")
	ErrInvalidEvent      = errors.New("invalid_billing_event")
	// ErrStaleSubscription marks an event about a subscription the account
	// has since replaced.
	ErrStaleSubscription = errors.New("stale_subscription")
)

type DecisionKind string

const (
	DecisionApply  DecisionKind = "apply"
	DecisionReject DecisionKind = "reject"
	DecisionIgnore DecisionKind = "ignore"
	DecisionNotify DecisionKind = "notify"
)

// Decision is the outcome of reconciling one event against one account.
type Decision struct {
	Kind   DecisionKind
	Patch  Patch
	Reason error
}

// Patch lists reconciliation-class field changes. Nil fields are left alone.
type Patch struct {
	Plan                  *domain.Plan
	Status                *domain.Status
	CustomerRef           *string
	SubscriptionRef       *string
	ClearSubscriptionRef  bool
	SubscriptionStartedAt *time.Time
	BillingPeriodEnd      *time.Time
	ClearBillingPeriodEnd bool
	ResetUsageAt          *time.Time
}

// ApplyTo returns account with the patch applied. A plan change always
// rewrites the stored limits from the plan table.
func (p Patch) ApplyTo(account domain.Account) domain.Account {
	if p.Plan != nil {
		account.ApplyPlan(*p.Plan)
	}
	if p.Status != nil {
		account.Status = *p.Status
	}
	if p.CustomerRef != nil {
		ref := *p.CustomerRef
		account.BillingCustomerRef = &ref
	}
	if p.ClearSubscriptionRef {
		account.BillingSubscriptionRef = nil
	} else if p.SubscriptionRef != nil {
		ref := *p.SubscriptionRef
		account.BillingSubscriptionRef = &ref
	}
	if p.SubscriptionStartedAt != nil {
		at := *p.SubscriptionStartedAt
		account.SubscriptionStartedAt = &at
	}
	if p.ClearBillingPeriodEnd {
		account.BillingPeriodEnd = nil
	} else if p.BillingPeriodEnd != nil {
		at := *p.BillingPeriodEnd
		account.BillingPeriodEnd = &at
	}
	if p.ResetUsageAt != nil {
		account.MonthlyUsage = 0
		account.LastResetAt = *p.ResetUsageAt
	}
	return account
}

// Reconcile decides what event means for current. A nil current account is
// rejected as unresolvable for every kind except unknown, which is ignored.
func Reconcile(event eventdomain.Event, current *domain.Account, now time.Time) (Decision, error) {
	if strings.TrimSpace(event.ID) == "" {
		return Decision{}, ErrInvalidEvent
	}
	now = now.UTC()

	switch event.Kind {
	case eventdomain.KindCheckoutCompleted,
		eventdomain.KindSubscriptionUpdated,
		eventdomain.KindSubscriptionDeleted,
		eventdomain.KindInvoicePaid,
		eventdomain.KindPaymentFailed:
	default:
		return Decision{Kind: DecisionIgnore, Reason: eventdomain.ErrUnmappedEventType}, nil
	}

	if current == nil {
		return Decision{Kind: DecisionReject, Reason: ErrUnresolvable}, nil
	}

	switch event.Kind {
	case eventdomain.KindSubscriptionUpdated, eventdomain.KindSubscriptionDeleted:
		if staleSubscription(event, *current) {
			return Decision{Kind: DecisionIgnore, Reason: ErrStaleSubscription}, nil
		}
	}

	switch event.Kind {
	case eventdomain.KindCheckoutCompleted:
		plan := NormalizeCheckoutPlan(event.TargetPlan)
		status := domain.StatusActive
		patch := Patch{
			Plan:                  &plan,
			Status:                &status,
			SubscriptionStartedAt: &now,
			ClearBillingPeriodEnd: true,
		}
		if ref := strings.TrimSpace(event.Ref.CustomerRef); ref != "" {
			patch.CustomerRef = &ref
		}
		if ref := strings.TrimSpace(event.Ref.SubscriptionRef); ref != "" {
			patch.SubscriptionRef = &ref
		}
		return Decision{Kind: DecisionApply, Patch: patch}, nil

	case eventdomain.KindSubscriptionUpdated:
		status := MapExternalStatus(event.ExternalStatus)
		patch := Patch{Status: &status}
		if event.PeriodEnd != nil {
			end := event.PeriodEnd.UTC()
			patch.BillingPeriodEnd = &end
		}
		return Decision{Kind: DecisionApply, Patch: patch}, nil

	case eventdomain.KindSubscriptionDeleted:
		plan := domain.PlanFree
		status := domain.StatusCancelled
		return Decision{Kind: DecisionApply, Patch: Patch{
			Plan:                 &plan,
			Status:               &status,
			ClearSubscriptionRef: true,
		}}, nil

	case eventdomain.KindInvoicePaid:
		return Decision{Kind: DecisionApply, Patch: Patch{ResetUsageAt: &now}}, nil

	case eventdomain.KindPaymentFailed:
		return Decision{Kind: DecisionNotify}, nil
	}

	return Decision{Kind: DecisionIgnore, Reason: eventdomain.ErrUnmappedEventType}, nil
}

// staleSubscription reports whether event names a subscription other than
// the one the account is billed on. Accounts without a stored ref accept any.
func staleSubscription(event eventdomain.Event, account domain.Account) bool {
	eventRef := strings.TrimSpace(event.Ref.SubscriptionRef)
	if eventRef == "" || account.BillingSubscriptionRef == nil {
		return false
	}
	current := strings.TrimSpace(*account.BillingSubscriptionRef)
	return current != "" && current != eventRef
}

// MapExternalStatus folds provider subscription statuses onto local ones.
func MapExternalStatus(status string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return domain.StatusActive
	case "trialing":
		return domain.StatusTrial
	case "canceled":
		return domain.StatusCancelled
	default:
		return domain.StatusExpired
	}
}

// NormalizeCheckoutPlan resolves the purchased plan. Checkout always buys a
// paid tier, so anything unrecognized becomes pro. An explicit "free" target
// is treated the same way: a completed paid checkout never lands an account
// on free limits.
func NormalizeCheckoutPlan(value string) domain.Plan {
	plan, ok := domain.ParsePlan(value)
	if !ok || plan == domain.PlanFree {
		return domain.PlanPro
	}
	return plan
}
