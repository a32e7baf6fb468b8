package cache

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/config"
)

const (
	refKindCustomer     = "customer"
	refKindSubscription = "subscription"
)

// AccountRefCache maps billing provider references to account ids for the
// webhook resolver.
type AccountRefCache interface {
	GetByCustomer(provider, ref string) (snowflake.ID, bool)
	SetCustomer(provider, ref string, accountID snowflake.ID)
	GetBySubscription(provider, ref string) (snowflake.ID, bool)
	SetSubscription(provider, ref string, accountID snowflake.ID)
	Forget(provider, customerRef, subscriptionRef string)
}

type accountRefCache struct {
	entries Cache[string, snowflake.ID]
}

func NewAccountRefCache(cfg config.Config) AccountRefCache {
	return &accountRefCache{
		entries: NewLRU[string, snowflake.ID](cfg.Billing.AccountRefCacheSize, cfg.Billing.AccountRefCacheTTL),
	}
}

func (c *accountRefCache) GetByCustomer(provider, ref string) (snowflake.ID, bool) {
	return c.get(cacheKey(provider, refKindCustomer, ref))
}

func (c *accountRefCache) SetCustomer(provider, ref string, accountID snowflake.ID) {
	c.set(cacheKey(provider, refKindCustomer, ref), accountID)
}

func (c *accountRefCache) GetBySubscription(provider, ref string) (snowflake.ID, bool) {
	return c.get(cacheKey(provider, refKindSubscription, ref))
}

func (c *accountRefCache) SetSubscription(provider, ref string, accountID snowflake.ID) {
	c.set(cacheKey(provider, refKindSubscription, ref), accountID)
}

// Forget drops both references, used after a reconciliation rewrites them.
func (c *accountRefCache) Forget(provider, customerRef, subscriptionRef string) {
	if strings.TrimSpace(customerRef) != "" {
		c.entries.Remove(cacheKey(provider, refKindCustomer, customerRef))
	}
	if strings.TrimSpace(subscriptionRef) != "" {
		c.entries.Remove(cacheKey(provider, refKindSubscription, subscriptionRef))
	}
}

func (c *accountRefCache) get(key string) (snowflake.ID, bool) {
	if key == "" {
		return 0, false
	}
	return c.entries.Get(key)
}

func (c *accountRefCache) set(key string, accountID snowflake.ID) {
	if key == "" || accountID == 0 {
		return
	}
	c.entries.Set(key, accountID)
}

// cacheKey joins the non-empty parts. The reference itself is kept
// case-sensitive because provider ids are.
func cacheKey(provider, kind, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(provider)) + "|" + kind + "|" + ref
}
