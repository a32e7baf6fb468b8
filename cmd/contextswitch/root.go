package main

import (
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/config"
	"github.com/smallbiznis/contextswitch/internal/idgen"
	"github.com/smallbiznis/contextswitch/internal/observability"
	"github.com/smallbiznis/contextswitch/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "contextswitch",
		Short:         "ContextSwitch billing, entitlement and compression service",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newRolloverCmd(),
		newAccountsCmd(),
	)

	return rootCmd
}

// coreModules is the infrastructure every command needs: config, logging
// and telemetry, ids, the database handle and the clock.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}
