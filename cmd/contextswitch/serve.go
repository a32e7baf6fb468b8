package main

import (
	"github.com/smallbiznis/contextswitch/internal/artifact"
	"github.com/smallbiznis/contextswitch/internal/auth"
	"github.com/smallbiznis/contextswitch/internal/billingsync"
	"github.com/smallbiznis/contextswitch/internal/cache"
	"github.com/smallbiznis/contextswitch/internal/compression"
	"github.com/smallbiznis/contextswitch/internal/entitlement"
	"github.com/smallbiznis/contextswitch/internal/metering"
	"github.com/smallbiznis/contextswitch/internal/migration"
	"github.com/smallbiznis/contextswitch/internal/notification"
	"github.com/smallbiznis/contextswitch/internal/payment"
	"github.com/smallbiznis/contextswitch/internal/providers"
	"github.com/smallbiznis/contextswitch/internal/ratelimit"
	"github.com/smallbiznis/contextswitch/internal/scheduler"
	"github.com/smallbiznis/contextswitch/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the rollover scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	app := fx.New(
		coreModules(),
		migration.Module,

		providers.Module,
		notification.Module,
		cache.Module,
		ratelimit.Module,
		auth.Module,

		entitlement.Module,
		billingsync.Module,
		payment.Module,
		metering.Module,
		artifact.Module,
		compression.Module,

		scheduler.Module,
		server.Module,
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
