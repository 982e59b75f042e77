package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-checkout-reconcile/internal/app"
	"github.com/imrishuroy/go-checkout-reconcile/internal/config"
)

var Version = "dev"

func main() {
	if err := newRootCmd(config.Load()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reconctl",
		Short:         "Operator tooling for the checkout reconciliation store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite database")

	rootCmd.AddCommand(migrateCmd(cfg))
	rootCmd.AddCommand(createUserCmd(cfg))
	rootCmd.AddCommand(listOrdersCmd(cfg))
	rootCmd.AddCommand(listEventsCmd(cfg))
	rootCmd.AddCommand(replayCmd(cfg))
	rootCmd.AddCommand(setStatusCmd(cfg))

	return rootCmd
}

// withApp wires the application for the duration of one command.
func withApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
