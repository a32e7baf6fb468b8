package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/pkg/db"
	"gorm.io/gorm"
)

// DefaultMaxAttempts bounds optimistic retries for unbound stores.
const DefaultMaxAttempts = 5

type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type store struct {
	db      *gorm.DB
	clock   clock.Clock
	opts    Options
	boundTx bool
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
	}
}

func Provide(conn *gorm.DB, clk clock.Clock) domain.Store {
	return New(conn, clk, DefaultOptions())
}

func New(conn *gorm.DB, clk clock.Clock, opts Options) domain.Store {
	if clk == nil {
		clk = clock.New()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 5 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 100 * time.Millisecond
	}
	return &store{db: conn, clock: clk, opts: opts}
}

func (s *store) WithTx(tx *gorm.DB) domain.Store {
	return &store{db: tx, clock: s.clock, opts: s.opts, boundTx: true}
}

func (s *store) Get(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	return account, nil
}

func (s *store) FindByCustomerRef(ctx context.Context, ref string) (domain.Account, error) {
	return s.findByColumn(ctx, "billing_customer_ref", ref)
}

func (s *store) FindBySubscriptionRef(ctx context.Context, ref string) (domain.Account, error) {
	return s.findByColumn(ctx, "billing_subscription_ref", ref)
}

func (s *store) findByColumn(ctx context.Context, column, value string) (domain.Account, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Account{}, domain.ErrNotFound
	}
	var account domain.Account
	err := s.db.WithContext(ctx).Where(column+" = ?", value).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	return account, nil
}

func (s *store) Create(ctx context.Context, account *domain.Account) error {
	if account == nil {
		return domain.ErrInvalidAccountID
	}
	if account.Version == 0 {
		account.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *store) ListForRollover(ctx context.Context, before time.Time, afterID snowflake.ID, limit int) ([]domain.Account, error) {
	if limit <= 0 {
		limit = 100
	}
	var accounts []domain.Account
	err := s.db.WithContext(ctx).
		Where("last_reset_at < ? AND id > ?", before, afterID).
		Order("id asc").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// ApplyAtomic reads, mutates and conditionally writes one account. The write
// only lands if the version is unchanged since the read.
func (s *store) ApplyAtomic(ctx context.Context, id snowflake.ID, fn domain.MutationFunc) (domain.Account, error) {
	if fn == nil {
		return domain.Account{}, errors.New("mutation is required")
	}

	if s.boundTx {
		return s.applyOnce(ctx, id, fn)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.InitialInterval
	policy.MaxInterval = s.opts.MaxInterval

	account, err := backoff.Retry(ctx, func() (domain.Account, error) {
		next, err := s.applyOnce(ctx, id, fn)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, domain.ErrVersionConflict) || db.IsRetryableTxErr(err) {
			return domain.Account{}, err
		}
		return domain.Account{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
	)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || db.IsRetryableTxErr(err) {
			return domain.Account{}, fmt.Errorf("%w: account %s", domain.ErrConflictRetryExhausted, id)
		}
		return domain.Account{}, err
	}
	return account, nil
}

func (s *store) applyOnce(ctx context.Context, id snowflake.ID, fn domain.MutationFunc) (domain.Account, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	next, err := fn(current)
	if errors.Is(err, domain.ErrNoChange) {
		return current, nil
	}
	if err != nil {
		return domain.Account{}, err
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = s.clock.Now()

	res := s.db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ? AND version = ?", current.ID, current.Version).
		Updates(mutableColumns(next))
	if res.Error != nil {
		return domain.Account{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Account{}, domain.ErrVersionConflict
	}
	return next, nil
}

// mutableColumns lists every writable column explicitly so zero values and
// cleared pointers are written too.
func mutableColumns(a domain.Account) map[string]any {
	return map[string]any{
		"email":                       a.Email,
		"name":                        a.Name,
		"plan":                        a.Plan,
		"status":                      a.Status,
		"billing_customer_ref":        a.BillingCustomerRef,
		"billing_subscription_ref":    a.BillingSubscriptionRef,
		"max_usage_per_month":         a.MaxUsagePerMonth,
		"max_stored_artifacts":        a.MaxStoredArtifacts,
		"monthly_usage":               a.MonthlyUsage,
		"total_compressions":          a.TotalCompressions,
		"total_contexts_saved":        a.TotalContextsSaved,
		"total_tokens_saved":          a.TotalTokensSaved,
		"total_characters_compressed": a.TotalCharactersCompressed,
		"last_usage_at":               a.LastUsageAt,
		"last_reset_at":               a.LastResetAt,
		"subscription_started_at":     a.SubscriptionStartedAt,
		"billing_period_end":          a.BillingPeriodEnd,
		"version":                     a.Version,
		"updated_at":                  a.UpdatedAt,
	}
}
