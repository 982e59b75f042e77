package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-checkout-reconcile/internal/app"
	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
	"github.com/imrishuroy/go-checkout-reconcile/internal/orders"
	"github.com/imrishuroy/go-checkout-reconcile/internal/webhooks"
)

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.DBPath)
				return nil
			})
		},
	}
}

func createUserCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-user [email] [password]",
		Short: "Create an operator account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				u, err := a.Users.Create(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", u.Email)
				return nil
			})
		},
	}
	return cmd
}

func listOrdersCmd(cfg *config.Config) *cobra.Command {
	var f orders.ListFilter
	cmd := &cobra.Command{
		Use:   "list-orders",
		Short: "List orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				list, err := a.Orders.List(ctx, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "maximum results (default 50, max 200)")
	cmd.Flags().StringVar(&f.Mail, "mail", "", "only orders with this customer mail")
	return cmd
}

func listEventsCmd(cfg *config.Config) *cobra.Command {
	var f webhooks.ListFilter
	cmd := &cobra.Command{
		Use:   "list-events",
		Short: "List ledgered webhook events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				list, err := a.Ledger.List(ctx, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "maximum results (default 50, max 200)")
	cmd.Flags().StringVar(&f.OrderID, "order-id", "", "only events for this processor order id")
	return cmd
}

func replayCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Reconcile a ledgered webhook event again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.Replay(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func setStatusCmd(cfg *config.Config) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "set-status [order-id] [status]",
		Short: "Overwrite the status of an order",
		Long: `Overwrite the status of an order without contacting the processor.

Refunds must go through the cancel endpoint so the processor is called and the
audit trail is written; "refunded" is therefore rejected here.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := orders.ParseEventStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			if status == orders.StatusRefunded {
				return fmt.Errorf("refunds must go through the cancel endpoint")
			}
			var cancelReason *string
			if reason = strings.TrimSpace(reason); reason != "" {
				cancelReason = &reason
			}
			if status == orders.StatusCanceled && cancelReason == nil {
				return apperr.Validation("reason", "a canceled order needs --reason")
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				o, err := a.Orders.UpdateStatusByID(ctx, args[0], status, cancelReason)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), o)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancel reason, required when the status is canceled")
	return cmd
}
