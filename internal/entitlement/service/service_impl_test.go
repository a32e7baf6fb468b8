package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/entitlement/repository"
	"github.com/smallbiznis/contextswitch/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, now time.Time) (domain.Service, domain.Store, *clock.FakeClock) {
	t.Helper()
	conn := testsupport.OpenSQLite(t, &domain.Account{})
	clk := clock.NewFakeClock(now)
	store := repository.New(conn, clk, repository.DefaultOptions())
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(ServiceParam{Store: store, Log: zap.NewNop(), GenID: node, Clock: clk})
	return svc, store, clk
}

func TestProvisionCreatesFreeAccount(t *testing.T) {
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, now)

	account, err := svc.Provision(context.Background(), domain.ProvisionRequest{Email: "Ada@Example.com", Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, account.Plan)
	assert.Equal(t, domain.StatusActive, account.Status)
	assert.Equal(t, int64(50), account.MaxUsagePerMonth)
	assert.Equal(t, "ada@example.com", account.Email)

	_, err = svc.Provision(context.Background(), domain.ProvisionRequest{Email: "ada@example.com"})
	require.ErrorIs(t, err, domain.ErrAccountExists)

	_, err = svc.Provision(context.Background(), domain.ProvisionRequest{Email: "not-an-email"})
	require.ErrorIs(t, err, domain.ErrInvalidEmail)
}

func TestGetAppliesLazyRollover(t *testing.T) {
	now := time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC)
	svc, store, clk := newTestService(t, now)

	account, err := svc.Provision(context.Background(), domain.ProvisionRequest{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = store.ApplyAtomic(context.Background(), account.ID, func(a domain.Account) (domain.Account, error) {
		a.MonthlyUsage = 50
		return a, nil
	})
	require.NoError(t, err)

	view, err := svc.View(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.RemainingUsage)

	clk.Advance(2 * time.Hour)
	view, err = svc.View(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.MonthlyUsage)
	assert.Equal(t, int64(50), view.RemainingUsage)
}

func TestViewUsesEffectiveLimits(t *testing.T) {
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, now)
	account, err := svc.Provision(context.Background(), domain.ProvisionRequest{Email: "e@example.com"})
	require.NoError(t, err)

	_, err = store.ApplyAtomic(context.Background(), account.ID, func(a domain.Account) (domain.Account, error) {
		a.ApplyPlan(domain.PlanEnterprise)
		return a, nil
	})
	require.NoError(t, err)
	view, err := svc.View(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Unlimited, view.RemainingUsage)

	_, err = store.ApplyAtomic(context.Background(), account.ID, func(a domain.Account) (domain.Account, error) {
		a.Status = domain.StatusExpired
		a.MonthlyUsage = 20
		return a, nil
	})
	require.NoError(t, err)
	view, err = svc.View(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), view.Limits.MaxUsagePerMonth)
	assert.Equal(t, int64(30), view.RemainingUsage)
}

func TestGetUnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t, time.Now().UTC())
	_, err := svc.Get(context.Background(), 12345)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateProfileName(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	account, err := svc.Provision(ctx, domain.ProvisionRequest{Email: "n@example.com", Name: "Old"})
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, account.ID, domain.ProfileUpdate{Name: "  New Name "})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)

	unchanged, err := svc.UpdateProfile(ctx, account.ID, domain.ProfileUpdate{Name: ""})
	require.NoError(t, err)
	assert.Equal(t, "New Name", unchanged.Name)

	_, err = svc.UpdateProfile(ctx, account.ID, domain.ProfileUpdate{Name: strings.Repeat("x", 256)})
	require.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestAttachCustomerRefKeepsFirst(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	account, err := svc.Provision(ctx, domain.ProvisionRequest{Email: "c@example.com"})
	require.NoError(t, err)

	attached, err := svc.AttachCustomerRef(ctx, account.ID, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, attached.BillingCustomerRef)
	assert.Equal(t, "cus_1", *attached.BillingCustomerRef)

	again, err := svc.AttachCustomerRef(ctx, account.ID, "cus_2")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", *again.BillingCustomerRef)

	_, err = svc.AttachCustomerRef(ctx, account.ID, " ")
	require.ErrorIs(t, err, domain.ErrInvalidCustomerRef)
}
