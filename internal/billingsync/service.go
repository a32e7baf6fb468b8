// Package billingsync applies verified billing events to entitlement state.
package billingsync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/contextswitch/internal/billingevent/dedup"
	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"github.com/smallbiznis/contextswitch/internal/cache"
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/config"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/notification"
	obsmetrics "github.com/smallbiznis/contextswitch/internal/observability/metrics"
	"github.com/smallbiznis/contextswitch/internal/reconcile"
	"github.com/smallbiznis/contextswitch/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier receives the best-effort side effects of a reconciliation.
type Notifier interface {
	PlanActivated(account domain.Account)
	SubscriptionCancelled(account domain.Account)
	PaymentFailed(account domain.Account)
	UnresolvedBillingEvent(provider, eventID, eventType string)
}

// Result reports how an event was handled. Every result is acknowledged to
// the provider; only errors are retried by it.
type Result struct {
	Outcome   eventdomain.Outcome
	AccountID *snowflake.ID
	Account   *domain.Account
}

type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultOptions() Options {
	return Options{MaxAttempts: 5, InitialInterval: 10 * time.Millisecond, MaxInterval: 200 * time.Millisecond}
}

type ServiceParam struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Store    domain.Store
	Dedup    *dedup.Deduplicator
	Refs     cache.AccountRefCache
	Notifier *notification.Notifier `optional:"true"`
	Metrics  *obsmetrics.Metrics    `optional:"true"`
	GenID    *snowflake.Node
	Clock    clock.Clock
	Log      *zap.Logger
}

type Service struct {
	db       *gorm.DB
	store    domain.Store
	dedup    *dedup.Deduplicator
	resolver *resolver
	notifier Notifier
	metrics  *obsmetrics.Metrics
	genID    *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
	opts     Options
}

func NewService(p ServiceParam) *Service {
	opts := DefaultOptions()
	if p.Config.Billing.ReconcileMaxAttempts > 0 {
		opts.MaxAttempts = p.Config.Billing.ReconcileMaxAttempts
	}
	var notifier Notifier
	if p.Notifier != nil {
		notifier = p.Notifier
	}
	svc := New(p.DB, p.Store, p.Dedup, p.Refs, notifier, p.GenID, p.Clock, p.Log, opts)
	svc.metrics = p.Metrics
	return svc
}

func New(conn *gorm.DB, store domain.Store, marks *dedup.Deduplicator, refs cache.AccountRefCache, notifier Notifier, genID *snowflake.Node, clk clock.Clock, log *zap.Logger, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:       conn,
		store:    store,
		dedup:    marks,
		resolver: newResolver(store, refs),
		notifier: notifier,
		genID:    genID,
		clock:    clk,
		log:      log.Named("billingsync"),
		opts:     opts,
	}
}

// attempt carries what one transaction decided, for the post-commit effects.
type attempt struct {
	outcome  eventdomain.Outcome
	decision reconcile.Decision
	before   domain.Account
	after    domain.Account
}

// Apply reconciles event exactly once. The processed mark and the account
// mutation commit in one transaction; a redelivered event only finds the mark.
func (s *Service) Apply(ctx context.Context, event eventdomain.Event) (Result, error) {
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Provider) == "" {
		return Result{}, reconcile.ErrInvalidEvent
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}

	log := s.log.With(
		zap.String("provider", event.Provider),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.RawType),
		zap.String("kind", string(event.Kind)),
	)

	// Redeliveries are the common case for retried webhooks. Answer them
	// before touching the resolver; the mark inside the transaction stays
	// authoritative for races.
	seen, err := s.dedup.Seen(ctx, event.Provider, event.ID)
	switch {
	case err != nil:
		log.Warn("processed mark lookup failed", zap.Error(err))
	case seen:
		s.metrics.RecordBillingEvent(ctx, event.Provider, string(event.Kind), string(eventdomain.OutcomeDuplicate))
		log.Debug("billing event already processed")
		return Result{Outcome: eventdomain.OutcomeDuplicate}, nil
	}

	var (
		accountID *snowflake.ID
		resolved  bool
	)
	if event.Kind != eventdomain.KindUnknown {
		id, ok, err := s.resolver.Resolve(ctx, event.Provider, event.Ref)
		if err != nil {
			log.Error("resolve account failed", zap.Error(err))
			return Result{}, err
		}
		if ok {
			accountID = &id
			resolved = true
		}
	}

	op := func() (attempt, error) {
		res, err := s.applyOnce(ctx, event, accountID)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, domain.ErrVersionConflict) || db.IsRetryableTxErr(err) {
			log.Debug("billing transaction conflict, retrying", zap.Error(err))
			return attempt{}, err
		}
		return attempt{}, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.InitialInterval
	policy.MaxInterval = s.opts.MaxInterval

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
	)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || db.IsRetryableTxErr(err) {
			log.Error("billing transaction retries exhausted", zap.Int("attempts", s.opts.MaxAttempts), zap.Error(err))
			return Result{}, fmt.Errorf("%w: event %s", domain.ErrConflictRetryExhausted, event.ID)
		}
		log.Error("apply billing event failed", zap.Error(err))
		return Result{}, err
	}

	s.afterCommit(ctx, event, resolved, result)

	out := Result{Outcome: result.outcome, AccountID: accountID}
	if resolved && result.outcome != eventdomain.OutcomeDuplicate && result.outcome != eventdomain.OutcomeDiscardedUnresolvable {
		account := result.after
		out.Account = &account
	}
	log.Info("billing event processed", zap.String("outcome", string(result.outcome)))
	return out, nil
}

func (s *Service) applyOnce(ctx context.Context, event eventdomain.Event, accountID *snowflake.ID) (attempt, error) {
	var res attempt
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mark := eventdomain.ProcessedEvent{
			ID:          s.genID.Generate(),
			Provider:    event.Provider,
			EventID:     event.ID,
			EventType:   eventType(event),
			AccountID:   accountID,
			Outcome:     initialOutcome(event, accountID),
			OccurredAt:  event.OccurredAt.UTC(),
			ProcessedAt: now,
			Payload:     event.Raw,
		}

		created, err := s.dedup.MarkIfNew(ctx, tx, mark)
		if err != nil {
			return err
		}
		if !created {
			res.outcome = eventdomain.OutcomeDuplicate
			return nil
		}
		if mark.Outcome != eventdomain.OutcomeApplied {
			res.outcome = mark.Outcome
			return nil
		}

		var decision reconcile.Decision
		var before domain.Account
		after, err := s.store.WithTx(tx).ApplyAtomic(ctx, *accountID, func(current domain.Account) (domain.Account, error) {
			before = current
			d, err := reconcile.Reconcile(event, &current, now)
			if err != nil {
				return current, err
			}
			decision = d
			if d.Kind != reconcile.DecisionApply {
				return current, domain.ErrNoChange
			}
			next := d.Patch.ApplyTo(current)
			if reflect.DeepEqual(next, current) {
				return current, domain.ErrNoChange
			}
			return next, nil
		})
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Account vanished after resolution. Keep the mark so the
			// provider stops retrying.
			res.outcome = eventdomain.OutcomeDiscardedUnresolvable
			return setOutcome(ctx, tx, mark.ID, res.outcome)
		case err != nil:
			return err
		}

		res.decision = decision
		res.before = before
		res.after = after
		switch decision.Kind {
		case reconcile.DecisionNotify:
			res.outcome = eventdomain.OutcomeNotified
		case reconcile.DecisionIgnore:
			res.outcome = eventdomain.OutcomeIgnored
		default:
			if after.Version == before.Version {
				res.outcome = eventdomain.OutcomeUnchanged
			} else {
				res.outcome = eventdomain.OutcomeApplied
			}
		}
		if res.outcome == mark.Outcome {
			return nil
		}
		return setOutcome(ctx, tx, mark.ID, res.outcome)
	})
	if err != nil {
		return attempt{}, err
	}
	return res, nil
}

// afterCommit runs side effects that must never roll back a committed
// reconciliation.
func (s *Service) afterCommit(ctx context.Context, event eventdomain.Event, resolved bool, res attempt) {
	s.metrics.RecordBillingEvent(ctx, event.Provider, string(event.Kind), string(res.outcome))

	switch res.outcome {
	case eventdomain.OutcomeDuplicate:
		return
	case eventdomain.OutcomeIgnored:
		if errors.Is(res.decision.Reason, reconcile.ErrStaleSubscription) {
			s.log.Info("billing event ignored, subscription superseded",
				zap.String("provider", event.Provider),
				zap.String("event_id", event.ID),
				zap.String("subscription_ref", event.Ref.SubscriptionRef),
			)
		}
		return
	case eventdomain.OutcomeDiscardedUnresolvable:
		s.log.Warn("billing event discarded, account unresolvable",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.RawType),
		)
		if s.notifier != nil {
			s.notifier.UnresolvedBillingEvent(event.Provider, event.ID, eventType(event))
		}
		return
	}

	if !resolved {
		return
	}

	switch event.Kind {
	case eventdomain.KindCheckoutCompleted:
		s.resolver.remember(event.Provider, res.after)
		if res.outcome == eventdomain.OutcomeApplied && s.notifier != nil {
			s.notifier.PlanActivated(res.after)
		}
	case eventdomain.KindSubscriptionDeleted:
		var sub string
		if res.before.BillingSubscriptionRef != nil {
			sub = *res.before.BillingSubscriptionRef
		}
		s.resolver.forget(event.Provider, "", sub)
		if res.outcome == eventdomain.OutcomeApplied && s.notifier != nil {
			s.notifier.SubscriptionCancelled(res.after)
		}
	case eventdomain.KindPaymentFailed:
		if s.notifier != nil {
			s.notifier.PaymentFailed(res.after)
		}
	}
}

func initialOutcome(event eventdomain.Event, accountID *snowflake.ID) eventdomain.Outcome {
	switch {
	case event.Kind == eventdomain.KindUnknown:
		return eventdomain.OutcomeIgnored
	case accountID == nil:
		return eventdomain.OutcomeDiscardedUnresolvable
	default:
		return eventdomain.OutcomeApplied
	}
}

func eventType(event eventdomain.Event) string {
	if t := strings.TrimSpace(event.RawType); t != "" {
		return t
	}
	return string(event.Kind)
}

func setOutcome(ctx context.Context, tx *gorm.DB, id snowflake.ID, outcome eventdomain.Outcome) error {
	return tx.WithContext(ctx).
		Model(&eventdomain.ProcessedEvent{}).
		Where("id = ?", id).
		Update("outcome", outcome).Error
}
