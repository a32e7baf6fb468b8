package billingsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/billingevent/dedup"
	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"github.com/smallbiznis/contextswitch/internal/cache"
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/config"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/entitlement/repository"
	"github.com/smallbiznis/contextswitch/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu         sync.Mutex
	activated  []snowflake.ID
	cancelled  []snowflake.ID
	failed     []snowflake.ID
	unresolved []string
}

func (n *recordingNotifier) PlanActivated(a domain.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activated = append(n.activated, a.ID)
}

func (n *recordingNotifier) SubscriptionCancelled(a domain.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, a.ID)
}

func (n *recordingNotifier) PaymentFailed(a domain.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, a.ID)
}

func (n *recordingNotifier) UnresolvedBillingEvent(_, eventID, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unresolved = append(n.unresolved, eventID)
}

// faultyStore fails every transaction-bound mutation with err.
type faultyStore struct {
	domain.Store
	err   error
	calls *atomic.Int32
}

func (f *faultyStore) WithTx(tx *gorm.DB) domain.Store {
	return &faultyStore{Store: f.Store.WithTx(tx), err: f.err, calls: f.calls}
}

func (f *faultyStore) ApplyAtomic(ctx context.Context, id snowflake.ID, fn domain.MutationFunc) (domain.Account, error) {
	f.calls.Add(1)
	return domain.Account{}, f.err
}

type fixture struct {
	svc      *Service
	store    domain.Store
	marks    *dedup.Deduplicator
	notifier *recordingNotifier
	clock    *clock.FakeClock
	node     *snowflake.Node
}

func newFixture(t *testing.T, now time.Time, wrap func(domain.Store) domain.Store) *fixture {
	t.Helper()
	conn := testsupport.OpenSQLite(t, &domain.Account{}, &eventdomain.ProcessedEvent{})
	clk := clock.NewFakeClock(now)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	var store domain.Store = repository.New(conn, clk, repository.DefaultOptions())
	if wrap != nil {
		store = wrap(store)
	}
	var cfg config.Config
	cfg.Billing.AccountRefCacheSize = 64
	cfg.Billing.AccountRefCacheTTL = time.Minute

	marks := dedup.New(conn)
	notifier := &recordingNotifier{}
	opts := Options{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	svc := New(conn, store, marks, cache.NewAccountRefCache(cfg), notifier, node, clk, zap.NewNop(), opts)
	return &fixture{svc: svc, store: store, marks: marks, notifier: notifier, clock: clk, node: node}
}

func (f *fixture) seed(t *testing.T, email string, mutate func(*domain.Account)) domain.Account {
	t.Helper()
	account := domain.NewFreeAccount(f.node.Generate(), email, "", f.clock.Now())
	if mutate != nil {
		mutate(&account)
	}
	require.NoError(t, f.store.Create(context.Background(), &account))
	return account
}

func checkoutEvent(id string, accountID snowflake.ID) eventdomain.Event {
	return eventdomain.Event{
		ID:         id,
		Provider:   "stripe",
		Kind:       eventdomain.KindCheckoutCompleted,
		RawType:    "checkout.session.completed",
		OccurredAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Ref: eventdomain.AccountRef{
			AccountID:       &accountID,
			CustomerRef:     "cus_1",
			SubscriptionRef: "sub_1",
		},
		TargetPlan: "pro",
		Raw:        []byte(`{"id":"` + id + `"}`),
	}
}

func TestCheckoutAppliesOnceAcrossRedelivery(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	account := f.seed(t, "buyer@example.com", nil)

	res, err := f.svc.Apply(ctx, checkoutEvent("evt_1", account.ID))
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeApplied, res.Outcome)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, got.Plan)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, int64(500), got.MaxUsagePerMonth)
	assert.Equal(t, int64(100), got.MaxStoredArtifacts)
	require.NotNil(t, got.BillingCustomerRef)
	assert.Equal(t, "cus_1", *got.BillingCustomerRef)
	require.NotNil(t, got.BillingSubscriptionRef)
	assert.Equal(t, "sub_1", *got.BillingSubscriptionRef)

	res, err = f.svc.Apply(ctx, checkoutEvent("evt_1", account.ID))
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeDuplicate, res.Outcome)
	// answered from the processed mark, before any account resolution
	assert.Nil(t, res.AccountID)
	assert.Nil(t, res.Account)

	again, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
	assert.Equal(t, []snowflake.ID{account.ID}, f.notifier.activated)
}

func TestCancellationDropsToFreeLimits(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	sub := "sub_9"
	account := f.seed(t, "pro@example.com", func(a *domain.Account) {
		a.ApplyPlan(domain.PlanPro)
		a.BillingSubscriptionRef = &sub
		a.MonthlyUsage = 60
	})

	res, err := f.svc.Apply(ctx, eventdomain.Event{
		ID:       "evt_cancel",
		Provider: "stripe",
		Kind:     eventdomain.KindSubscriptionDeleted,
		RawType:  "customer.subscription.deleted",
		Ref:      eventdomain.AccountRef{SubscriptionRef: sub},
	})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeApplied, res.Outcome)
	require.NotNil(t, res.AccountID)
	assert.Equal(t, account.ID, *res.AccountID)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, got.Plan)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Nil(t, got.BillingSubscriptionRef)
	assert.Equal(t, int64(60), got.MonthlyUsage)
	assert.Equal(t, int64(0), got.RemainingUsage())
	assert.Equal(t, []snowflake.ID{account.ID}, f.notifier.cancelled)
}

func TestSubscriptionUpdateResolvesThroughCachedRefs(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	account := f.seed(t, "trial@example.com", nil)

	_, err := f.svc.Apply(ctx, checkoutEvent("evt_checkout", account.ID))
	require.NoError(t, err)

	end := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	res, err := f.svc.Apply(ctx, eventdomain.Event{
		ID:             "evt_update",
		Provider:       "stripe",
		Kind:           eventdomain.KindSubscriptionUpdated,
		Ref:            eventdomain.AccountRef{CustomerRef: "cus_other", SubscriptionRef: "sub_1"},
		ExternalStatus: "trialing",
		PeriodEnd:      &end,
	})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeApplied, res.Outcome)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrial, got.Status)
	require.NotNil(t, got.BillingPeriodEnd)
	assert.True(t, got.BillingPeriodEnd.Equal(end))
}

func TestUnresolvableEventIsMarkedAndReported(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	event := eventdomain.Event{
		ID:       "evt_orphan",
		Provider: "stripe",
		Kind:     eventdomain.KindInvoicePaid,
		RawType:  "invoice.paid",
		Ref:      eventdomain.AccountRef{CustomerRef: "cus_missing"},
	}

	res, err := f.svc.Apply(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeDiscardedUnresolvable, res.Outcome)
	assert.Nil(t, res.AccountID)

	seen, err := f.marks.Seen(ctx, "stripe", "evt_orphan")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, []string{"evt_orphan"}, f.notifier.unresolved)

	res, err = f.svc.Apply(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeDuplicate, res.Outcome)
	assert.Len(t, f.notifier.unresolved, 1)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)

	res, err := f.svc.Apply(context.Background(), eventdomain.Event{
		ID:       "evt_misc",
		Provider: "stripe",
		Kind:     eventdomain.KindUnknown,
		RawType:  "customer.created",
	})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeIgnored, res.Outcome)
	assert.Empty(t, f.notifier.unresolved)
}

func TestPaymentFailedNotifiesWithoutChangingAccount(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	cus := "cus_late"
	account := f.seed(t, "late@example.com", func(a *domain.Account) {
		a.ApplyPlan(domain.PlanPro)
		a.BillingCustomerRef = &cus
	})

	res, err := f.svc.Apply(ctx, eventdomain.Event{
		ID:       "evt_failed",
		Provider: "stripe",
		Kind:     eventdomain.KindPaymentFailed,
		Ref:      eventdomain.AccountRef{CustomerRef: cus},
	})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeNotified, res.Outcome)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Version, got.Version)
	assert.Equal(t, domain.PlanPro, got.Plan)
	assert.Equal(t, []snowflake.ID{account.ID}, f.notifier.failed)
}

func TestInvoicePaidResetsUsage(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	cus := "cus_paid"
	account := f.seed(t, "paid@example.com", func(a *domain.Account) {
		a.ApplyPlan(domain.PlanPro)
		a.BillingCustomerRef = &cus
		a.MonthlyUsage = 321
	})

	_, err := f.svc.Apply(ctx, eventdomain.Event{
		ID:       "evt_paid",
		Provider: "stripe",
		Kind:     eventdomain.KindInvoicePaid,
		Ref:      eventdomain.AccountRef{CustomerRef: cus},
	})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.MonthlyUsage)
	assert.True(t, got.LastResetAt.Equal(f.clock.Now()))
}

func TestConcurrentRedeliveryAppliesOnce(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	account := f.seed(t, "race@example.com", nil)

	const workers = 8
	outcomes := make(chan eventdomain.Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Apply(ctx, checkoutEvent("evt_race", account.ID))
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	applied := 0
	for outcome := range outcomes {
		if outcome == eventdomain.OutcomeApplied {
			applied++
		} else if outcome != eventdomain.OutcomeDuplicate {
			t.Fatalf("unexpected outcome %s", outcome)
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied delivery, got %d", applied)
	}
}

func TestFailedMutationLeavesNoMark(t *testing.T) {
	boom := errors.New("disk full")
	calls := &atomic.Int32{}
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), func(s domain.Store) domain.Store {
		return &faultyStore{Store: s, err: boom, calls: calls}
	})
	ctx := context.Background()
	account := f.seed(t, "fail@example.com", nil)

	_, err := f.svc.Apply(ctx, checkoutEvent("evt_fail", account.ID))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())

	seen, err := f.marks.Seen(ctx, "stripe", "evt_fail")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestVersionConflictRetriesWholeTransaction(t *testing.T) {
	calls := &atomic.Int32{}
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), func(s domain.Store) domain.Store {
		return &faultyStore{Store: s, err: domain.ErrVersionConflict, calls: calls}
	})
	ctx := context.Background()
	account := f.seed(t, "busy@example.com", nil)

	_, err := f.svc.Apply(ctx, checkoutEvent("evt_busy", account.ID))
	require.ErrorIs(t, err, domain.ErrConflictRetryExhausted)
	assert.Equal(t, int32(3), calls.Load())

	seen, err := f.marks.Seen(ctx, "stripe", "evt_busy")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDeletionOfReplacedSubscriptionKeepsUpgrade(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()
	account := f.seed(t, "upgrader@example.com", nil)

	_, err := f.svc.Apply(ctx, checkoutEvent("evt_pro", account.ID))
	require.NoError(t, err)

	upgrade := checkoutEvent("evt_enterprise", account.ID)
	upgrade.Ref.SubscriptionRef = "sub_2"
	upgrade.TargetPlan = "enterprise"
	res, err := f.svc.Apply(ctx, upgrade)
	require.NoError(t, err)
	require.Equal(t, eventdomain.OutcomeApplied, res.Outcome)

	accountID := account.ID
	res, err = f.svc.Apply(ctx, eventdomain.Event{
		ID:       "evt_old_cancel",
		Provider: "stripe",
		Kind:     eventdomain.KindSubscriptionDeleted,
		RawType:  "customer.subscription.deleted",
		Ref:      eventdomain.AccountRef{AccountID: &accountID, CustomerRef: "cus_1", SubscriptionRef: "sub_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeIgnored, res.Outcome)

	got, err := f.store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanEnterprise, got.Plan)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, domain.Unlimited, got.MaxUsagePerMonth)
	require.NotNil(t, got.BillingSubscriptionRef)
	assert.Equal(t, "sub_2", *got.BillingSubscriptionRef)
	assert.Empty(t, f.notifier.cancelled)

	// the same event again is a duplicate, not a second evaluation
	res, err = f.svc.Apply(ctx, eventdomain.Event{
		ID:       "evt_old_cancel",
		Provider: "stripe",
		Kind:     eventdomain.KindSubscriptionDeleted,
		Ref:      eventdomain.AccountRef{AccountID: &accountID, SubscriptionRef: "sub_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeDuplicate, res.Outcome)
}
