package billingsync

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"github.com/smallbiznis/contextswitch/internal/cache"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"golang.org/x/sync/singleflight"
)

// resolver turns an AccountRef into an account id. Lookups for the same
// reference are collapsed and cached.
type resolver struct {
	store domain.Store
	cache cache.AccountRefCache
	group singleflight.Group
}

func newResolver(store domain.Store, refs cache.AccountRefCache) *resolver {
	return &resolver{store: store, cache: refs}
}

// Resolve tries the metadata account id, then the subscription ref, then the
// customer ref. It returns ok=false when nothing matches.
func (r *resolver) Resolve(ctx context.Context, provider string, ref eventdomain.AccountRef) (snowflake.ID, bool, error) {
	if ref.AccountID != nil && *ref.AccountID != 0 {
		id := *ref.AccountID
		_, err := r.store.Get(ctx, id)
		switch {
		case err == nil:
			return id, true, nil
		case !errors.Is(err, domain.ErrNotFound):
			return 0, false, err
		}
	}

	if sub := strings.TrimSpace(ref.SubscriptionRef); sub != "" {
		id, ok, err := r.lookup(ctx, provider, "subscription", sub)
		if err != nil || ok {
			return id, ok, err
		}
	}
	if cus := strings.TrimSpace(ref.CustomerRef); cus != "" {
		return r.lookup(ctx, provider, "customer", cus)
	}
	return 0, false, nil
}

func (r *resolver) lookup(ctx context.Context, provider, kind, value string) (snowflake.ID, bool, error) {
	if r.cache != nil {
		var (
			id snowflake.ID
			ok bool
		)
		if kind == "subscription" {
			id, ok = r.cache.GetBySubscription(provider, value)
		} else {
			id, ok = r.cache.GetByCustomer(provider, value)
		}
		if ok {
			return id, true, nil
		}
	}

	v, err, _ := r.group.Do(provider+"|"+kind+"|"+value, func() (any, error) {
		var (
			account domain.Account
			err     error
		)
		if kind == "subscription" {
			account, err = r.store.FindBySubscriptionRef(ctx, value)
		} else {
			account, err = r.store.FindByCustomerRef(ctx, value)
		}
		if err != nil {
			return snowflake.ID(0), err
		}
		if r.cache != nil {
			if kind == "subscription" {
				r.cache.SetSubscription(provider, value, account.ID)
			} else {
				r.cache.SetCustomer(provider, value, account.ID)
			}
		}
		return account.ID, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v.(snowflake.ID), true, nil
}

// remember records the refs an account now owns after a reconciliation.
func (r *resolver) remember(provider string, account domain.Account) {
	if r.cache == nil {
		return
	}
	if account.BillingCustomerRef != nil {
		r.cache.SetCustomer(provider, *account.BillingCustomerRef, account.ID)
	}
	if account.BillingSubscriptionRef != nil {
		r.cache.SetSubscription(provider, *account.BillingSubscriptionRef, account.ID)
	}
}

func (r *resolver) forget(provider string, customerRef, subscriptionRef string) {
	if r.cache == nil {
		return
	}
	r.cache.Forget(provider, customerRef, subscriptionRef)
}
