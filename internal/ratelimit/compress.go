package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/contextswitch/internal/config"
)

const keyCompressAccount = "compress:account:%s"

var (
	ErrRateLimited = errors.New("rate_limited")
	ErrUnavailable = errors.New("rate_limit_unavailable")
)

// CompressLimiter throttles compression calls per account. A nil or disabled
// limiter admits everything.
type CompressLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewCompressLimiter(cfg config.Config, client *redis.Client) (*CompressLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.CompressAccountRate <= 0 || limitCfg.CompressAccountBurst <= 0 {
		return nil, errors.New("compress account rate limit must be positive")
	}
	return &CompressLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.CompressAccountRate,
		burst:  limitCfg.CompressAccountBurst,
	}, nil
}

func (l *CompressLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowAccount returns ErrRateLimited, with the bucket state, when the
// account has no token left.
func (l *CompressLimiter) AllowAccount(ctx context.Context, accountID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyCompressAccount, strings.TrimSpace(accountID)), l.rate, l.burst)
	if err != nil {
		return Result{}, err
	}
	if !res.Allowed {
		return res, ErrRateLimited
	}
	return res, nil
}
