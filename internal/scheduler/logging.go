package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/contextswitch/internal/observability/context"
	obslogger "github.com/smallbiznis/contextswitch/internal/observability/logger"
	"go.uber.org/zap"
)

// jobRun accumulates what a single job invocation touched. Jobs fetch it from
// the context and report counts; runJob logs the totals once the job returns.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	resource  string
	scanned   int
	processed int
	failed    int
}

type jobRunKey struct{}

func (r *jobRun) record(resource string, scanned, processed, failed int) {
	if r == nil {
		return
	}
	r.resource = resource
	r.scanned += max(scanned, 0)
	r.processed += max(processed, 0)
	r.failed += max(failed, 0)
}

func (r *jobRun) fail() {
	if r != nil {
		r.failed++
	}
}

func (s *Scheduler) startJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

// logJobFinish writes the run summary and feeds the processed count into the
// batch metric for the resource the job reported.
func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run.resource != "" {
		s.metrics.AddBatchProcessed(run.job, run.resource, run.processed)
	}

	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Duration("elapsed", s.clock.Now().Sub(run.startedAt)),
		zap.Int("scanned", run.scanned),
		zap.Int("processed", run.processed),
		zap.Int("failed", run.failed),
	}
	if run.resource != "" {
		fields = append(fields, zap.String("resource", run.resource))
	}
	if run.failed > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}
