// Package domain describes normalized billing events and their processed marks.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind is the closed set of billing event kinds the reconciler understands.
type Kind string

const (
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindSubscriptionUpdated Kind = "subscription_updated"
	KindSubscriptionDeleted Kind = "subscription_deleted"
	KindInvoicePaid         Kind = "invoice_paid"
	KindPaymentFailed       Kind = "payment_failed"
	KindUnknown             Kind = "unknown"
)

var ErrUnmappedEventType = errors.New("unmapped_event_type")

// AccountRef links an event to an account. Any subset may be present.
type AccountRef struct {
	AccountID       *snowflake.ID
	CustomerRef     string
	SubscriptionRef string
}

func (r AccountRef) Empty() bool {
	return r.AccountID == nil && strings.TrimSpace(r.CustomerRef) == "" && strings.TrimSpace(r.SubscriptionRef) == ""
}

// Event is a provider event normalized for reconciliation.
type Event struct {
	ID         string
	Provider   string
	Kind       Kind
	RawType    string
	OccurredAt time.Time
	Ref        AccountRef

	TargetPlan     string
	ExternalStatus string
	PeriodEnd      *time.Time
	CustomerEmail  string

	Raw []byte
}

type Outcome string

const (
	OutcomeApplied               Outcome = "applied"
	OutcomeUnchanged             Outcome = "unchanged"
	OutcomeIgnored               Outcome = "ignored"
	OutcomeNotified              Outcome = "notified"
	OutcomeDiscardedUnresolvable Outcome = "discarded_unresolvable"
	OutcomeDuplicate             Outcome = "duplicate"
)

// ProcessedEvent is the durable dedup mark for a provider event id.
type ProcessedEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Provider    string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_processed_billing_events_provider_event"`
	EventID     string         `gorm:"type:varchar(255);not null;uniqueIndex:ux_processed_billing_events_provider_event"`
	EventType   string         `gorm:"type:varchar(128);not null"`
	AccountID   *snowflake.ID  `gorm:"index"`
	Outcome     Outcome        `gorm:"type:varchar(32);not null"`
	OccurredAt  time.Time      `gorm:"not null"`
	ProcessedAt time.Time      `gorm:"not null;index"`
	Payload     datatypes.JSON
}

func (ProcessedEvent) TableName() string { return "processed_billing_events" }
