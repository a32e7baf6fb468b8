package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/contextswitch/internal/ratelimit"
)

const lockKeyPrefix = "scheduler:lock:"

// withLock runs fn under a cluster-wide lease for job. Without a Redis
// locker the process is assumed to be the only replica. It reports false
// when another replica holds the lease.
func (s *Scheduler) withLock(ctx context.Context, job string, fn func(context.Context) error) (bool, error) {
	if s.locker == nil {
		return true, fn(ctx)
	}
	ran, err := s.locker.WithLock(ctx, lockKeyPrefix+lockName(job), s.cfg.LockTTL, fn)
	if errors.Is(err, ratelimit.ErrLockNotConfigured) {
		return true, fn(ctx)
	}
	return ran, err
}

// lockName folds the safety sweep onto the rollover lease.
func lockName(job string) string {
	if job == JobUsageRolloverSafety {
		return JobUsageRollover
	}
	return job
}
