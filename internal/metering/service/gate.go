package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/clock"
	entitlement "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/metering/domain"
	obsmetrics "github.com/smallbiznis/contextswitch/internal/observability/metrics"
	"github.com/smallbiznis/contextswitch/internal/rollover"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type GateParam struct {
	fx.In

	Store   entitlement.Store
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.MeteringMetrics `optional:"true"`
}

type Gate struct {
	store   entitlement.Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *obsmetrics.MeteringMetrics
}

func NewGate(p GateParam) domain.Gate {
	return New(p.Store, p.Clock, p.Log, p.Metrics)
}

func New(store entitlement.Store, clk clock.Clock, log *zap.Logger, m *obsmetrics.MeteringMetrics) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{store: store, clock: clk, log: log.Named("metering.gate"), metrics: m}
}

// TryConsume runs rollover, the limit check and the increment as one
// mutation, so two callers can never both take the last unit.
func (g *Gate) TryConsume(ctx context.Context, accountID snowflake.ID, amount int64) (domain.Admission, error) {
	if amount < 1 {
		return domain.Admission{}, domain.ErrInvalidAmount
	}
	now := g.clock.Now()

	var (
		exceeded bool
		snapshot entitlement.Account
	)
	account, err := g.store.ApplyAtomic(ctx, accountID, func(current entitlement.Account) (entitlement.Account, error) {
		exceeded = false
		next, rolled := rollover.MaybeRollover(current, now)
		if !next.EffectiveLimits().AllowsUsage(next.MonthlyUsage, amount) {
			exceeded = true
			snapshot = next
			if rolled {
				// The reset still belongs to the account even though
				// nothing is admitted.
				return next, nil
			}
			return current, entitlement.ErrNoChange
		}
		next.MonthlyUsage += amount
		next.TotalCompressions += amount
		at := now
		next.LastUsageAt = &at
		return next, nil
	})
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		g.metrics.IncDecision(obsmetrics.MeteringDecisionNotFound)
		return domain.Admission{}, err
	case err != nil:
		g.metrics.IncDecision(obsmetrics.MeteringDecisionError)
		g.log.Error("consume usage failed", zap.String("account_id", accountID.String()), zap.Error(err))
		return domain.Admission{}, err
	}

	if exceeded {
		g.metrics.IncDecision(obsmetrics.MeteringDecisionQuotaExceeded)
		g.log.Debug("usage quota exceeded",
			zap.String("account_id", accountID.String()),
			zap.Int64("used", snapshot.MonthlyUsage),
			zap.Int64("amount", amount),
		)
		return admission(snapshot, now), domain.ErrQuotaExceeded
	}

	g.metrics.IncDecision(obsmetrics.MeteringDecisionAdmitted)
	return admission(account, now), nil
}

func (g *Gate) Release(ctx context.Context, accountID snowflake.ID, amount int64, admittedAt time.Time) error {
	if amount < 1 {
		return domain.ErrInvalidAmount
	}
	_, err := g.store.ApplyAtomic(ctx, accountID, func(current entitlement.Account) (entitlement.Account, error) {
		if !rollover.SamePeriod(current.LastResetAt, admittedAt) {
			return current, entitlement.ErrNoChange
		}
		current.MonthlyUsage = max(current.MonthlyUsage-amount, 0)
		current.TotalCompressions = max(current.TotalCompressions-amount, 0)
		return current, nil
	})
	if err != nil {
		return err
	}
	g.metrics.IncDecision(obsmetrics.MeteringDecisionReleased)
	return nil
}

func (g *Gate) RecordStats(ctx context.Context, accountID snowflake.ID, stats domain.Stats) error {
	if stats.TokensSaved <= 0 && stats.CharactersCompressed <= 0 {
		return nil
	}
	_, err := g.store.ApplyAtomic(ctx, accountID, func(current entitlement.Account) (entitlement.Account, error) {
		current.TotalTokensSaved += max(stats.TokensSaved, 0)
		current.TotalCharactersCompressed += max(stats.CharactersCompressed, 0)
		return current, nil
	})
	return err
}

func (g *Gate) RecordSaved(ctx context.Context, accountID snowflake.ID) error {
	_, err := g.store.ApplyAtomic(ctx, accountID, func(current entitlement.Account) (entitlement.Account, error) {
		current.TotalContextsSaved++
		return current, nil
	})
	return err
}

func admission(account entitlement.Account, now time.Time) domain.Admission {
	return domain.Admission{
		AccountID:  account.ID,
		Plan:       account.Plan,
		Status:     account.Status,
		Used:       account.MonthlyUsage,
		Limit:      account.EffectiveLimits().MaxUsagePerMonth,
		Remaining:  account.RemainingUsage(),
		AdmittedAt: now,
	}
}
