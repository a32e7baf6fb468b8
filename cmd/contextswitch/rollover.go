package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/contextswitch/internal/billingevent/dedup"
	"github.com/smallbiznis/contextswitch/internal/config"
	entitlementrepo "github.com/smallbiznis/contextswitch/internal/entitlement/repository"
	"github.com/smallbiznis/contextswitch/internal/metricspush"
	"github.com/smallbiznis/contextswitch/internal/ratelimit"
	"github.com/smallbiznis/contextswitch/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const rolloverPushJob = "contextswitch_rollover"

// newRolloverCmd runs the rollover sweep and event pruning once, for
// deployments that trigger jobs from an external cron instead of serve.
func newRolloverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Run the monthly usage rollover sweep once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				sched *scheduler.Scheduler
				cfg   config.Config
				log   *zap.Logger
			)
			app := fx.New(
				coreModules(),
				ratelimit.Module,
				fx.Provide(entitlementrepo.Provide),
				fx.Provide(dedup.New),
				fx.Provide(scheduler.ProvideConfig),
				fx.Provide(scheduler.New),
				fx.Populate(&sched, &cfg, &log),
			)
			err := withApp(cmd.Context(), app, func(ctx context.Context) error {
				runErr := sched.RunOnce(ctx)
				if pusher := metricspush.New(cfg, rolloverPushJob, log); pusher != nil {
					if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
						log.Warn("push rollover metrics failed", zap.Error(err))
					}
				}
				return runErr
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "rollover complete")
			return nil
		},
	}
}
