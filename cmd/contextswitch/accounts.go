package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/contextswitch/internal/auth"
	authdomain "github.com/smallbiznis/contextswitch/internal/auth/domain"
	"github.com/smallbiznis/contextswitch/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountsCreateCmd(),
	)

	return cmd
}

func newAccountsCreateCmd() *cobra.Command {
	var (
		name     string
		tokenTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Provision a free account and print its bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				entitlements entitlementdomain.Service
				verifier     authdomain.Verifier
			)
			app := fx.New(
				coreModules(),
				entitlement.Module,
				auth.Module,
				fx.Populate(&entitlements, &verifier),
			)
			return withApp(cmd.Context(), app, func(ctx context.Context) error {
				account, err := entitlements.Provision(ctx, entitlementdomain.ProvisionRequest{
					Email: args[0],
					Name:  name,
				})
				if err != nil {
					return fmt.Errorf("provision account: %w", err)
				}
				token, err := verifier.Issue(account.ID, account.Email, tokenTTL)
				if err != nil {
					return fmt.Errorf("issue token: %w", err)
				}

				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "account_id\t%s\n", account.ID)
				_, _ = fmt.Fprintf(out, "email\t%s\n", account.Email)
				_, _ = fmt.Fprintf(out, "plan\t%s\n", account.Plan)
				_, _ = fmt.Fprintf(out, "token\t%s\n", token)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 0, "bearer token lifetime (default 720h)")

	return cmd
}
