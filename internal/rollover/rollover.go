// Package rollover resets monthly usage at calendar month boundaries.
package rollover

import (
	"time"

	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
)

// MaybeRollover zeroes monthly usage when now falls in a different UTC
// (year, month) than the last reset. Lifetime counters are untouched.
func MaybeRollover(account domain.Account, now time.Time) (domain.Account, bool) {
	if SamePeriod(account.LastResetAt, now) {
		return account, false
	}
	account.MonthlyUsage = 0
	account.LastResetAt = now.UTC()
	return account, true
}

// SamePeriod reports whether a and b share a UTC calendar month.
func SamePeriod(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

// PeriodStart returns midnight UTC on the first day of now's month.
func PeriodStart(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// Mutation adapts MaybeRollover to the store's mutation signature.
func Mutation(now time.Time) domain.MutationFunc {
	return func(current domain.Account) (domain.Account, error) {
		next, changed := MaybeRollover(current, now)
		if !changed {
			return current, domain.ErrNoChange
		}
		return next, nil
	}
}
