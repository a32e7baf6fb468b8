package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/contextswitch/internal/config"
)

func testConfig(size int, ttl time.Duration) config.Config {
	var cfg config.Config
	cfg.Billing.AccountRefCacheSize = size
	cfg.Billing.AccountRefCacheTTL = ttl
	return cfg
}

func TestAccountRefCacheRoundTrip(t *testing.T) {
	c := NewAccountRefCache(testConfig(16, time.Minute))

	c.SetCustomer("stripe", "cus_A", 10)
	c.SetSubscription("Stripe", "sub_A", 10)

	if id, ok := c.GetByCustomer("STRIPE", "cus_A"); !ok || id != 10 {
		t.Fatalf("expected customer hit, got %v %v", id, ok)
	}
	if _, ok := c.GetByCustomer("stripe", "cus_a"); ok {
		t.Fatalf("references are case-sensitive")
	}
	if id, ok := c.GetBySubscription("stripe", "sub_A"); !ok || id != 10 {
		t.Fatalf("expected subscription hit, got %v %v", id, ok)
	}

	c.Forget("stripe", "cus_A", "sub_A")
	if _, ok := c.GetByCustomer("stripe", "cus_A"); ok {
		t.Fatalf("expected customer entry to be forgotten")
	}
	if _, ok := c.GetBySubscription("stripe", "sub_A"); ok {
		t.Fatalf("expected subscription entry to be forgotten")
	}
}

func TestAccountRefCacheIgnoresEmpty(t *testing.T) {
	c := NewAccountRefCache(testConfig(16, time.Minute))
	c.SetCustomer("stripe", "  ", 10)
	c.SetCustomer("stripe", "cus_B", 0)
	if _, ok := c.GetByCustomer("stripe", "cus_B"); ok {
		t.Fatalf("zero account ids must not be cached")
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestLRUExpires(t *testing.T) {
	c := NewLRU[string, int](4, 20*time.Millisecond)
	c.Set("a", 1)
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
}
