package rollover

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"go.uber.org/zap"
)

const defaultBatchSize = 200

// Sweeper applies rollover to every account still in a past period so that
// idle accounts converge without waiting for their next request.
type Sweeper struct {
	store     domain.Store
	log       *zap.Logger
	batchSize int
}

type Result struct {
	Scanned    int
	RolledOver int
	Failed     int
}

func NewSweeper(store domain.Store, log *zap.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: store, log: log.Named("rollover.sweeper"), batchSize: batchSize}
}

// Run pages through stale accounts in id order. Per-account failures are
// logged and counted; only listing errors abort the sweep.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Result, error) {
	var result Result
	start := PeriodStart(now)
	var afterID snowflake.ID

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch, err := s.store.ListForRollover(ctx, start, afterID, s.batchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			return result, nil
		}

		for _, account := range batch {
			result.Scanned++
			changed := false
			_, err := s.store.ApplyAtomic(ctx, account.ID, func(current domain.Account) (domain.Account, error) {
				next, err := Mutation(now)(current)
				changed = err == nil
				return next, err
			})
			switch {
			case errors.Is(err, domain.ErrNotFound):
				continue
			case err != nil:
				result.Failed++
				s.log.Warn("rollover failed", zap.String("account_id", account.ID.String()), zap.Error(err))
				continue
			}
			if changed {
				result.RolledOver++
			}
		}

		afterID = batch[len(batch)-1].ID
		if len(batch) < s.batchSize {
			return result, nil
		}
	}
}
