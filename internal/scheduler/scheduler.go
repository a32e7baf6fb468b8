package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/contextswitch/internal/billingevent/dedup"
	"github.com/smallbiznis/contextswitch/internal/clock"
	entitlement "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/contextswitch/internal/observability/metrics"
	"github.com/smallbiznis/contextswitch/internal/ratelimit"
	"github.com/smallbiznis/contextswitch/internal/rollover"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobUsageRollover       = "usage_rollover"
	JobUsageRolloverSafety = "usage_rollover_safety"
	JobPruneEvents         = "prune_processed_events"
)

var ErrInvalidConfig = errors.New("invalid scheduler config")

type Params struct {
	fx.In

	Config  Config
	Store   entitlement.Store
	Dedup   *dedup.Deduplicator
	Locker  *ratelimit.Locker `optional:"true"`
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	cfg     Config
	sweeper *rollover.Sweeper
	dedup   *dedup.Deduplicator
	locker  *ratelimit.Locker
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.SchedulerMetrics
	cron    *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Store == nil || p.Dedup == nil || p.Log == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	return &Scheduler{
		cfg:     cfg,
		sweeper: rollover.NewSweeper(p.Store, log, cfg.RolloverBatch),
		dedup:   p.Dedup,
		locker:  p.Locker,
		log:     log,
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: m,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	ran, err := s.withLock(ctx, name, func(ctx context.Context) error {
		s.logJobStart(ctx, run)
		err := fn(ctx)
		if err != nil {
			run.fail()
		}
		s.logJobFinish(ctx, run)
		return err
	})
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if !ran && err == nil {
		s.metrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
		log.Debug("job skipped, lock held elsewhere")
		return nil
	}
	if err == nil {
		s.metrics.MarkSuccess(name, s.clock.Now())
		return nil
	}

	// deadline is a soft timeout; the next trigger resumes the work
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every job in order regardless of cron timing.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return errors.Join(
		s.runJob(parent, JobUsageRollover, s.cfg.RolloverBatch, s.cfg.JobTimeout, s.RolloverJob),
		s.runJob(parent, JobPruneEvents, 0, s.cfg.JobTimeout, s.PruneProcessedEventsJob),
	)
}

// RolloverJob resets usage for every account still in a past month.
func (s *Scheduler) RolloverJob(ctx context.Context) error {
	result, err := s.sweeper.Run(ctx, s.clock.Now())
	jobRunFromContext(ctx).record(obsmetrics.ResourceAccounts, result.Scanned, result.RolledOver, result.Failed)
	return err
}

// PruneProcessedEventsJob drops dedup marks older than the retention window.
func (s *Scheduler) PruneProcessedEventsJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.ProcessedEventTTL)
	removed, err := s.dedup.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	jobRunFromContext(ctx).record(obsmetrics.ResourceProcessedEvents, int(removed), int(removed), 0)
	return nil
}

// Start registers the cron triggers. Specs are evaluated in UTC so the
// monthly trigger lines up with the usage period boundary.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cronLogger{s.log})))
	entries := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{s.cfg.RolloverCron, JobUsageRollover, s.RolloverJob},
		{s.cfg.SafetyCron, JobUsageRolloverSafety, s.RolloverJob},
		{s.cfg.PruneCron, JobPruneEvents, s.PruneProcessedEventsJob},
	}
	for _, entry := range entries {
		batch := s.cfg.RolloverBatch
		if entry.name == JobPruneEvents {
			batch = 0
		}
		_, err := c.AddFunc(entry.spec, func() {
			if err := s.runJob(ctx, entry.name, batch, s.cfg.JobTimeout, entry.fn); err != nil {
				s.log.Warn("scheduler job failed", zap.String("job", entry.name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", entry.name, entry.spec, err)
		}
	}
	s.cron = c
	c.Start()
	s.log.Info("scheduler started",
		zap.String("rollover_cron", s.cfg.RolloverCron),
		zap.String("safety_cron", s.cfg.SafetyCron),
		zap.String("prune_cron", s.cfg.PruneCron),
	)
	return nil
}

// Stop waits for running jobs up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron's panic recovery.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
